// Command cleo is the "run <namespace> [args…]" CLI driver of spec
// §6's external interface: load a namespace, bind
// *command-line-args*, invoke its main, and translate the result into
// an exit code. Grounded stylistically on
// _examples/clarete-langlang/go/cmd/langlang/main.go (flag parsing up
// front, a stderr message and os.Exit on hard failures, no framework), adapted
// from a grammar-compiler driver to a namespace loader and evaluator.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/rafalprzywarski/cleo-go/api"
	"github.com/rafalprzywarski/cleo-go/cleoerr"
	"github.com/rafalprzywarski/cleo-go/heap"
)

const (
	exitSuccess       = 0
	exitUserException = 2
	exitInternalError = 3
)

func main() {
	sourcePath := flag.String("source-path", ".", "colon-separated list of roots searched for namespace source files")
	gcFrequency := flag.Int("gc-frequency", 64, "allocations between GC cycles")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 || args[0] != "run" {
		fmt.Fprintln(os.Stderr, "usage: cleo run <namespace> [args...]")
		os.Exit(exitInternalError)
	}

	nsName := args[1]
	cliArgs := args[2:]

	opts := api.NewRuntimeOptions()
	opts.SetInt("gc.frequency", *gcFrequency)
	rt := api.NewWithOptions("cleo.core", opts)
	rt.SourcePath = strings.Split(*sourcePath, ":")

	os.Exit(run(rt, nsName, cliArgs))
}

func run(rt *api.Runtime, nsName string, cliArgs []string) int {
	nsSym := rt.CreateSymbol("", nsName)
	if err := rt.Require(nsSym); err != nil {
		fmt.Fprintln(os.Stderr, "cleo: could not load namespace "+nsName+": "+err.Error())
		return exitInternalError
	}

	ns := rt.NS.InNs(nsName)
	mainVar, ok := rt.NS.ResolveVar(ns, rt.CreateSymbol("", "main"))
	if !ok {
		fmt.Fprintln(os.Stderr, "cleo: "+nsName+"/main is not defined")
		return exitInternalError
	}

	argVal := rt.CreateArray(stringValues(rt, cliArgs))
	argsVar := rt.Define(rt.CreateSymbol("", "*command-line-args*"), heap.Nil, heap.Nil)

	rt.PushBindings(map[heap.Value]heap.Value{argsVar: argVal})
	defer rt.PopBindings()

	_, err := rt.VM.Call(rt.NS.VarRoot(mainVar), nil)
	if err == nil {
		return exitSuccess
	}

	if cerr, ok := err.(*cleoerr.Error); ok {
		fmt.Fprintln(os.Stderr, "cleo: uncaught exception: "+rt.Heap.PrStr(cerr.Value))
		return exitUserException
	}
	fmt.Fprintln(os.Stderr, "cleo: internal error: "+err.Error())
	return exitInternalError
}

func stringValues(rt *api.Runtime, args []string) []heap.Value {
	out := make([]heap.Value, len(args))
	for i, a := range args {
		out[i] = rt.Heap.CreateString(a)
	}
	return out
}
