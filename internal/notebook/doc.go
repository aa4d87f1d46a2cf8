// Package notebook reads and writes Jupyter .ipynb documents for the kernel.
// It exposes the code cells, their input tags and the exported names the
// dataflow front end stores under each cell's "dfmetadata" entry, and keeps
// everything else in the file intact across a load and save.
package notebook
