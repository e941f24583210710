// Package pipeline loads pipeline definitions from HCL files.
//
// A pipeline declares prototypes and nodes:
//
//	prototype "gaussian" {
//	  kind           = "filter"
//	  runner         = "sleep"
//	  allowed_inputs = ["volume"]
//	}
//
//	node "gaussian" "blur" {
//	  parents = ["volume.ct"]
//	  properties {
//	    duration = "50ms"
//	  }
//	}
//
// Nodes are identified as `prototype.name`. Definitions may be spread over
// any number of files in a directory tree; references resolve across files.
package pipeline
