package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/TazeTSchnitzel/recki-ct/codegen"
	"github.com/TazeTSchnitzel/recki-ct/compiler"
	"github.com/TazeTSchnitzel/recki-ct/ir"
	"github.com/TazeTSchnitzel/recki-ct/samples"
)

const usage = `reckidump graph [function]
reckidump analyze [function]
reckidump ir [function]
reckidump php [function]
reckidump js [function]
reckidump native [function]
reckidump run [function] [args...]
reckidump list`

func main() {
	if len(os.Args) < 2 {
		fmt.Println(usage)
		return
	}
	mode := os.Args[1]
	if mode == "list" {
		for _, name := range samples.Names() {
			fmt.Println(name)
		}
		return
	}
	if len(os.Args) < 3 {
		fmt.Println(usage)
		return
	}
	name := os.Args[2]
	c := compiler.New(samples.Source{})
	ctx := context.Background()

	var err error
	switch mode {
	case "graph":
		g, gerr := c.Graph(ctx, name)
		if gerr != nil {
			err = gerr
			break
		}
		fmt.Print(g.DotDigraph())
	case "analyze":
		res, aerr := c.Analysis(ctx, name)
		if aerr != nil {
			err = aerr
			break
		}
		fmt.Printf("verdict: %v\n", res.Verdict)
		fmt.Printf("return:  %v\n", res.Return)
		for _, reason := range res.Reasons {
			fmt.Printf("reason:  %s\n", reason)
		}
	case "ir":
		f, ierr := c.IR(ctx, name)
		if ierr != nil {
			err = ierr
			break
		}
		fmt.Print(f)
	case "php":
		var src string
		if src, err = c.CompileSource(ctx, name, codegen.TargetPHP); err == nil {
			fmt.Print(src)
		}
	case "js":
		var src string
		if src, err = c.CompileSource(ctx, name, codegen.TargetJS); err == nil {
			fmt.Print(src)
		}
	case "native":
		mod, nerr := c.CompileNative(ctx, name)
		if nerr != nil {
			err = nerr
			break
		}
		fmt.Print(mod)
	case "run":
		f, rerr := c.IR(ctx, name)
		if rerr != nil {
			err = rerr
			break
		}
		args := make([]interface{}, 0, len(os.Args)-3)
		for _, raw := range os.Args[3:] {
			args = append(args, parseArg(raw))
		}
		in := &ir.Interp{Out: os.Stdout}
		ret, rerr := in.Run(f, args...)
		if rerr != nil {
			err = rerr
			break
		}
		fmt.Printf("=> %v\n", ret)
	default:
		fmt.Println("unrecognized mode")
		fmt.Println(usage)
		return
	}
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

// parseArg turns a command line argument into a runtime value. Ints
// and floats parse as numbers, everything else passes as a string.
func parseArg(raw string) interface{} {
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return f
	}
	return raw
}
