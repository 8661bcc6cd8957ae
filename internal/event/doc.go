// Package event models the comma separated event lines that flow between
// pipeline stages and the three column feature table produced at the end of
// the forward pipeline. Records keep every field they do not interpret so a
// parsed line can be rendered back without loss.
package event
