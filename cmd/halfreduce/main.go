// Command halfreduce is a speculative-parallel test-case minimizer: it
// repeatedly shrinks an input file while an oracle command keeps exiting
// zero on it, overlapping oracle invocations along the predicted search
// path instead of running them one at a time.
package main

import (
	"github.com/agusx1211/halfreduce/internal/cli"
)

func main() {
	cli.Execute()
}
