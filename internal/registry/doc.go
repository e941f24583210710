// Package registry provides the central "glue" for the module system.
//
// The Registry maps the runner names used by prototypes in pipeline files
// (e.g. `runner = "sleep"`) to the compiled Go handlers that do a filter's
// work. Modules register their handlers once at startup; the application
// then validates that every filter prototype in the loaded pipeline points
// at a registered runner before anything is scheduled.
//
// Handlers receive an Input carrying the node's properties as cty values.
// Input.Decode populates a tagged Go struct from them, converting types the
// same way HCL attribute evaluation would.
package registry
