// Package hcl_adapter loads the kernel configuration from HCL files.
package hcl_adapter
