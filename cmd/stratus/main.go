// cmd/stratus/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"

	"stratus/internal/asm"
	"stratus/internal/codecache"
	"stratus/internal/compile"
	"stratus/internal/config"
	sterrors "stratus/internal/errors"
	"stratus/internal/report"
	"stratus/internal/runtime"
	"stratus/internal/trace"
)

const VERSION = "1.0.0"

// Build variables - can be set during build with ldflags
var BuildDate = time.Now().Format("2006-01-02")

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		showUsage()
		return
	}

	if args[0] == "--help" || args[0] == "-h" || args[0] == "help" {
		showUsage()
		return
	}

	if args[0] == "--version" || args[0] == "-v" || args[0] == "version" {
		showVersion()
		return
	}

	switch args[0] {
	case "run":
		if err := runCommand(args[1:]); err != nil {
			exitErr(err)
		}
	case "build":
		if err := buildCommand(args[1:]); err != nil {
			exitErr(err)
		}
	case "disasm":
		if err := disasmCommand(args[1:]); err != nil {
			exitErr(err)
		}
	case "check":
		if err := checkCommand(args[1:]); err != nil {
			exitErr(err)
		}
	case "cache":
		if err := cacheCommand(args[1:]); err != nil {
			exitErr(err)
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", args[0])
		showUsage()
		os.Exit(1)
	}
}

// exitErr prints language errors in their own format and everything
// else with an Error prefix, then exits.
func exitErr(err error) {
	switch err.(type) {
	case *sterrors.Error, *runtime.Thrown:
		fmt.Fprintln(os.Stderr, err.Error())
	default:
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(1)
}

// newEngine wires an engine from the settings file plus the trace
// flag. The returned shutdown closes the trace server and the cache.
func newEngine(cfg *config.Config, traceOn bool) (*compile.Engine, func(), error) {
	opts := compile.Options{
		Codegen:     cfg.CodegenOptions(),
		Parallelism: cfg.Compile.Parallelism,
	}
	var closers []func()
	shutdown := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if traceOn || cfg.Trace.Addr != "" {
		addr := cfg.Trace.Addr
		if addr == "" {
			addr = "localhost:7542"
		}
		srv := trace.NewServer()
		if err := srv.Start(addr); err != nil {
			return nil, nil, err
		}
		opts.Tracer = srv
		closers = append(closers, func() { srv.Close() })
	}

	if cfg.Cache.Driver != "" {
		store, err := codecache.Open(cfg.Cache.Driver, cfg.Cache.DSN)
		if err != nil {
			shutdown()
			return nil, nil, err
		}
		opts.Cache = store
		closers = append(closers, func() { store.Close() })
	}

	return compile.New(opts), shutdown, nil
}

func runCommand(args []string) error {
	cfgPath := "stratus.yaml"
	printResult := false
	traceOn := false
	var files []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-config", "--config":
			if i+1 >= len(args) {
				return errors.New("-config requires a path")
			}
			cfgPath = args[i+1]
			i++
		case "-print", "--print":
			printResult = true
		case "-trace", "--trace":
			traceOn = true
		default:
			files = append(files, args[i])
		}
	}
	if len(files) == 0 {
		return errors.New("run requires a script file")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	eng, shutdown, err := newEngine(cfg, traceOn)
	if err != nil {
		return err
	}
	defer shutdown()

	for _, file := range files {
		sc, err := eng.CompileFile(file)
		if err != nil {
			return err
		}
		v, h, err := compile.Run(sc, runtime.Config{}, os.Stdout)
		if err != nil {
			return err
		}
		if printResult {
			fmt.Println(h.DisplayString(v))
		}
	}
	return nil
}

func buildCommand(args []string) error {
	cfgPath := "stratus.yaml"
	asJSON := false
	var files []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-config", "--config":
			if i+1 >= len(args) {
				return errors.New("-config requires a path")
			}
			cfgPath = args[i+1]
			i++
		case "-json", "--json":
			asJSON = true
		default:
			files = append(files, args[i])
		}
	}
	if len(files) == 0 {
		matches, err := filepath.Glob("*.st")
		if err != nil {
			return err
		}
		files = matches
	}
	if len(files) == 0 {
		return errors.New("no .st files to build")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	eng, shutdown, err := newEngine(cfg, false)
	if err != nil {
		return err
	}
	defer shutdown()

	scripts, err := eng.CompileFiles(context.Background(), files)
	if err != nil {
		return err
	}
	summary := report.Build(scripts, eng.Stubs().Size())
	if asJSON {
		return report.WriteJSON(os.Stdout, summary)
	}
	report.Render(os.Stdout, summary)
	return nil
}

func disasmCommand(args []string) error {
	cfgPath := "stratus.yaml"
	colorMode := "auto"
	var files []string
	for i := 0; i < len(args); i++ {
		switch args[i] {
		case "-config", "--config":
			if i+1 >= len(args) {
				return errors.New("-config requires a path")
			}
			cfgPath = args[i+1]
			i++
		case "-color", "--color":
			if i+1 >= len(args) {
				return errors.New("-color requires auto, always or never")
			}
			colorMode = args[i+1]
			i++
		default:
			files = append(files, args[i])
		}
	}
	if len(files) == 0 {
		return errors.New("disasm requires a script file")
	}

	var colored bool
	switch colorMode {
	case "always":
		colored = true
	case "never":
		colored = false
	case "auto":
		colored = isatty.IsTerminal(os.Stdout.Fd())
	default:
		return errors.Errorf("unknown color mode %q", colorMode)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	eng, shutdown, err := newEngine(cfg, false)
	if err != nil {
		return err
	}
	defer shutdown()

	for _, file := range files {
		sc, err := eng.CompileFile(file)
		if err != nil {
			return err
		}
		printCode(sc.Code, colored)
	}
	return nil
}

// printCode writes the disassembly of code and every nested function.
func printCode(code *asm.Code, colored bool) {
	text := asm.Disassemble(code)
	if colored {
		text = colorize(text)
	}
	fmt.Print(text)
	fmt.Println()
	for _, c := range code.Pool {
		if c.Kind == asm.ConstFunction {
			printCode(c.Code, colored)
		}
	}
}

const (
	ansiReset = "\x1b[0m"
	ansiBold  = "\x1b[1m"
	ansiDim   = "\x1b[2m"
	ansiCyan  = "\x1b[36m"
)

// colorize highlights the header, block labels and comment lines in
// disassembly text.
func colorize(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		switch {
		case i == 0:
			lines[i] = ansiBold + line + ansiReset
		case strings.HasPrefix(strings.TrimSpace(line), ";;"):
			lines[i] = ansiDim + line + ansiReset
		case line != "" && !strings.HasPrefix(line, " ") && strings.HasSuffix(line, ":"):
			lines[i] = ansiCyan + line + ansiReset
		}
	}
	return strings.Join(lines, "\n")
}

func checkCommand(args []string) error {
	if len(args) == 0 {
		return errors.New("check requires a script file")
	}
	for _, file := range args {
		data, err := os.ReadFile(file)
		if err != nil {
			return errors.Wrapf(err, "read %s", file)
		}
		if err := compile.Check(string(data), file); err != nil {
			return err
		}
		fmt.Printf("%s: syntax is valid\n", file)
	}
	return nil
}

func cacheCommand(args []string) error {
	if len(args) == 0 {
		return errors.New("cache requires a subcommand: stats or clear")
	}
	sub := args[0]
	cfgPath := "stratus.yaml"
	rest := args[1:]
	for i := 0; i < len(rest); i++ {
		switch rest[i] {
		case "-config", "--config":
			if i+1 >= len(rest) {
				return errors.New("-config requires a path")
			}
			cfgPath = rest[i+1]
			i++
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if cfg.Cache.Driver == "" {
		return errors.New("cache is not configured (set cache.driver in stratus.yaml)")
	}
	store, err := codecache.Open(cfg.Cache.Driver, cfg.Cache.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	switch sub {
	case "stats":
		st, err := store.Stats()
		if err != nil {
			return err
		}
		fmt.Printf("%d entries, %s\n", st.Entries, humanize.Bytes(uint64(st.Bytes)))
		return nil
	case "clear":
		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Println("cache cleared")
		return nil
	}
	return errors.Errorf("unknown cache subcommand %q", sub)
}

func showVersion() {
	fmt.Printf("Stratus v%s\n", VERSION)
	fmt.Printf("Build Date: %s\n", BuildDate)
}

func showUsage() {
	fmt.Println("Stratus - baseline compiler toolchain")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  stratus run <file.st>       Compile and run a script")
	fmt.Println("  stratus build [files...]    Compile scripts and print a summary")
	fmt.Println("  stratus disasm <file.st>    Print generated code")
	fmt.Println("  stratus check <file.st>     Check a script without running it")
	fmt.Println("  stratus cache stats|clear   Inspect or reset the code cache")
	fmt.Println("  stratus version             Show version information")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  -config <path>   Settings file (default stratus.yaml)")
	fmt.Println("  -print           run: print the script's completion value")
	fmt.Println("  -trace           run: publish compile events over websocket")
	fmt.Println("  -json            build: write the summary as JSON")
	fmt.Println("  -color <mode>    disasm: auto, always or never")
	fmt.Println()
	fmt.Println("Examples:")
	fmt.Println("  stratus run -print main.st")
	fmt.Println("  stratus build -json src/a.st src/b.st")
	fmt.Println("  stratus disasm -color always main.st")
}
