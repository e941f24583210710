/*
Package nodeid parses and formats references to pipeline nodes.

A node is referenced as `prototype.name`, for example `gaussian.blur` or
`volume.ct`. Both segments may contain letters, digits, `_` and `-`.
*/
package nodeid
