// internal/sysmem/sysmem.go
// OS-backed memory acquisition for the page tier and the large-object
// bypass. The pool treats this as an abstract primitive: Alloc hands
// back zero-filled, page-aligned, read/write private memory that the GC
// never scans; Free gives it back.
package sysmem

// PageSize must divide every Alloc/Free length.
const PageSize = 4096
