// Package config defines the format-agnostic configuration model of the
// kernel, along with the Loader interface for reading it from a file.
//
// The `config.Model` is what the `app` package builds the kernel and its
// sandbox from. Concrete loaders, such as the HCL one, live in separate
// packages.
package config
