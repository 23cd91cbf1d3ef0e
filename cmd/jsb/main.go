// Command jsb runs scripts and an interactive prompt on top of jsbridge.
//
//	jsb                      start the REPL
//	jsb -e '1 + 2'           evaluate and print
//	jsb script.js ...        run files in order
//	jsb -config jsb.toml     load settings (see Config)
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/Gaurav-Gosain/jsbridge"
)

const version = "0.2.0"

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "", "path to a jsb.toml file")
	evalCode := flag.String("e", "", "evaluate code and exit")
	showVersion := flag.Bool("version", false, "show version")
	timing := flag.Bool("timing", false, "show execution time")
	noWasm := flag.Bool("no-wasm", false, "do not install the wasm global")
	flag.Parse()

	if *showVersion {
		fmt.Println(logoStyle.Render("jsb") + dimStyle.Render(" v"+version))
		fmt.Println(dimStyle.Render(fmt.Sprintf("Go %s, %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)))
		return 0
	}
	initSyntaxHighlighter()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fatalf("%v", err)
		return 1
	}
	if *timing {
		cfg.REPL.Timing = true
	}
	if *noWasm {
		cfg.Wasm.Enabled = false
	}

	logger, err := newLogger(cfg.Log)
	if err != nil {
		fatalf("%v", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	jsbridge.SetLogger(logger)

	s, err := newSession(cfg, logger, printConsole)
	if err != nil {
		fatalf("%v", err)
		return 1
	}
	defer s.close()

	if err := s.preload(); err != nil {
		fatalf("preload: %v", err)
		return 1
	}

	r := newREPL(s, os.Stdout)
	if *evalCode != "" {
		result, took, err := s.eval(s.ctx, *evalCode)
		if err != nil {
			r.printError(err)
			return 1
		}
		if !result.IsUndefined() {
			fmt.Println(formatResult(result))
		}
		if r.showTiming {
			fmt.Println(formatTiming(took))
		}
		return 0
	}

	if files := flag.Args(); len(files) > 0 {
		for _, path := range files {
			took, err := s.runFile(path)
			if err != nil {
				r.printError(err)
				return 1
			}
			if r.showTiming {
				fmt.Println(formatTiming(took))
			}
		}
		return 0
	}

	if err := r.run(); err != nil {
		fatalf("%v", err)
		return 1
	}
	return 0
}

// printConsole writes console.* output, errors and warnings to stderr.
func printConsole(level, message string) {
	switch level {
	case "error":
		fmt.Fprintln(os.Stderr, errorMsgStyle.Render(message))
	case "warn":
		fmt.Fprintln(os.Stderr, warnStyle.Render(message))
	case "debug":
		fmt.Println(dimStyle.Render(message))
	default:
		fmt.Println(message)
	}
}
