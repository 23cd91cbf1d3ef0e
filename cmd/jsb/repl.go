package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/chzyer/readline"
)

// repl is the interactive prompt on top of a session.
type repl struct {
	*session
	out         io.Writer
	showTiming  bool
	multiline   strings.Builder
	inMultiline bool
	quit        bool
}

func newREPL(s *session, out io.Writer) *repl {
	return &repl{session: s, out: out, showTiming: s.cfg.REPL.Timing}
}

var completions = []string{
	"var", "let", "const", "function", "return", "if", "else", "for", "while",
	"switch", "case", "break", "continue", "try", "catch", "finally", "throw",
	"new", "delete", "typeof", "instanceof", "class", "extends", "async", "await",
	"console.log", "console.error", "Math", "JSON.parse", "JSON.stringify",
	"Object.keys", "Object.entries", "Array.from", "Promise.resolve", "Promise.all",
	"Uint8Array", "ArrayBuffer", "wasm.instantiate", "wasm.validate",
	".help", ".exit", ".clear", ".timing", ".load", ".info", ".gc", ".reset",
	".sibling", ".stats",
}

func (r *repl) run() error {
	completer := readline.NewPrefixCompleter()
	for _, item := range completions {
		completer.Children = append(completer.Children, readline.PcItem(item))
	}
	rl, err := readline.NewEx(&readline.Config{
		Prompt:            r.prompt(false),
		HistoryFile:       r.cfg.REPL.HistoryFile,
		HistoryLimit:      1000,
		AutoComplete:      completer,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	r.banner()
	for !r.quit {
		rl.SetPrompt(r.prompt(r.inMultiline))
		line, err := rl.Readline()
		switch {
		case err == readline.ErrInterrupt:
			r.multiline.Reset()
			r.inMultiline = false
			continue
		case err == io.EOF:
			fmt.Fprintln(r.out, dimStyle.Render("Goodbye!"))
			return nil
		case err != nil:
			return err
		}
		r.feed(line)
	}
	return nil
}

// feed handles one input line: commands, continuation lines, or code.
func (r *repl) feed(line string) {
	if r.inMultiline {
		if line == "" {
			code := r.multiline.String()
			r.multiline.Reset()
			r.inMultiline = false
			r.evalAndPrint(code)
			return
		}
		r.multiline.WriteString(line)
		r.multiline.WriteString("\n")
		return
	}

	switch {
	case strings.HasPrefix(line, "."):
		r.handleCommand(line)
	case line == "exit" || line == "quit":
		fmt.Fprintln(r.out, dimStyle.Render("Goodbye!"))
		r.quit = true
	case strings.HasSuffix(line, "\\"):
		r.multiline.WriteString(strings.TrimSuffix(line, "\\"))
		r.multiline.WriteString("\n")
		r.inMultiline = true
	case needsContinuation(line):
		r.multiline.WriteString(line)
		r.multiline.WriteString("\n")
		r.inMultiline = true
	default:
		r.evalAndPrint(line)
	}
}

func (r *repl) prompt(continuation bool) string {
	if continuation {
		return dimStyle.Render("... ")
	}
	return promptStyle.Render("jsb") + dimStyle.Render(" > ")
}

func (r *repl) banner() {
	fmt.Fprintln(r.out, logoStyle.Render("jsb")+dimStyle.Render(" v"+version))
	fmt.Fprintln(r.out, dimStyle.Render("  Type ")+cmdStyle.Render(".help")+dimStyle.Render(" for commands"))
	fmt.Fprintln(r.out)
}

func (r *repl) evalAndPrint(code string) {
	code = strings.TrimSpace(code)
	if code == "" {
		return
	}
	r.evalCount++

	result, took, err := r.eval(r.ctx, code)
	if err != nil {
		r.printError(err)
		return
	}
	if !result.IsUndefined() {
		fmt.Fprintln(r.out, formatResult(result))
	}
	if r.showTiming {
		fmt.Fprintln(r.out, formatTiming(took))
	}
}

func (r *repl) printError(err error) {
	fmt.Fprintln(r.out, errorStyle.Render("Error"))
	fmt.Fprintln(r.out, formatError(err))
}

// ============================================================================
// Commands
// ============================================================================

func (r *repl) handleCommand(line string) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return
	}
	cmd, args := strings.ToLower(parts[0]), parts[1:]

	switch cmd {
	case ".help", ".h", ".?":
		r.cmdHelp()
	case ".exit", ".quit", ".q":
		fmt.Fprintln(r.out, dimStyle.Render("Goodbye!"))
		r.quit = true
	case ".clear", ".cls":
		fmt.Fprint(r.out, "\033[H\033[2J")
	case ".timing", ".time":
		r.showTiming = !r.showTiming
		if r.showTiming {
			fmt.Fprintln(r.out, successStyle.Render("✓")+" Timing enabled")
		} else {
			fmt.Fprintln(r.out, dimStyle.Render("○")+" Timing disabled")
		}
	case ".load", ".l":
		r.cmdLoad(args)
	case ".info", ".i":
		r.cmdInfo()
	case ".gc":
		r.cmdGC()
	case ".reset":
		r.cmdReset()
	case ".sibling":
		r.cmdSibling(strings.TrimSpace(strings.TrimPrefix(line, parts[0])))
	case ".stats":
		r.cmdStats()
	default:
		fmt.Fprintln(r.out, errorStyle.Render("Unknown command:")+" "+cmd)
		fmt.Fprintln(r.out, dimStyle.Render("Type .help for available commands"))
	}
}

func (r *repl) cmdHelp() {
	fmt.Fprintln(r.out, titleStyle.Render("Commands"))
	cmds := []struct{ cmd, desc string }{
		{".help", "Show this help message"},
		{".exit", "Exit the REPL"},
		{".clear", "Clear the screen"},
		{".timing", "Toggle execution timing"},
		{".load <file>", "Load and execute a JavaScript file"},
		{".info", "Show engine information"},
		{".gc", "Run a collection and hand back unreachable values"},
		{".reset", "Replace the context (clears all variables)"},
		{".sibling <code>", "Evaluate code in a new context sharing the heap"},
		{".stats", "Show handle and protection counters"},
	}
	for _, c := range cmds {
		fmt.Fprintf(r.out, "  %s  %s\n", cmdStyle.Render(fmt.Sprintf("%-16s", c.cmd)), dimStyle.Render(c.desc))
	}
	fmt.Fprintln(r.out, dimStyle.Render("  Promises returned at the prompt are awaited."))
}

func (r *repl) cmdLoad(args []string) {
	if len(args) == 0 {
		fmt.Fprintln(r.out, errorStyle.Render("Usage:")+" .load <filename>")
		return
	}
	took, err := r.runFile(args[0])
	if err != nil {
		r.printError(err)
		return
	}
	fmt.Fprintln(r.out, successStyle.Render("✓")+" Loaded "+args[0])
	if r.showTiming {
		fmt.Fprintln(r.out, formatTiming(took))
	}
}

func (r *repl) cmdInfo() {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	fmt.Fprintln(r.out, titleStyle.Render("Engine Information"))
	info := []struct{ label, value string }{
		{"Version", version},
		{"Go Version", runtime.Version()},
		{"OS/Arch", runtime.GOOS + "/" + runtime.GOARCH},
		{"Go Heap", fmt.Sprintf("%.2f MB", float64(mem.HeapAlloc)/1024/1024)},
		{"GC Runs", fmt.Sprintf("%d", mem.NumGC)},
		{"Evaluations", fmt.Sprintf("%d", r.evalCount)},
		{"Siblings", fmt.Sprintf("%d", len(r.siblings))},
		{"WebAssembly", fmt.Sprintf("%t", r.host != nil)},
		{"Uptime", time.Since(r.startTime).Round(time.Second).String()},
	}
	for _, i := range info {
		fmt.Fprintf(r.out, "  %s  %s\n", dimStyle.Render(fmt.Sprintf("%-14s", i.label)), i.value)
	}
}

func (r *repl) cmdGC() {
	var before, after runtime.MemStats
	runtime.ReadMemStats(&before)
	start := time.Now()
	r.engine.GarbageCollect()
	took := time.Since(start)
	runtime.ReadMemStats(&after)

	freed := max(int64(before.HeapAlloc)-int64(after.HeapAlloc), 0)
	fmt.Fprintln(r.out, successStyle.Render("✓")+fmt.Sprintf(" GC completed in %v (freed ~%.2f KB)", took, float64(freed)/1024))
}

func (r *repl) cmdReset() {
	if err := r.reset(); err != nil {
		r.printError(err)
		return
	}
	fmt.Fprintln(r.out, successStyle.Render("✓")+" Context reset")
}

func (r *repl) cmdSibling(code string) {
	sib, err := r.sibling()
	if err != nil {
		r.printError(err)
		return
	}
	fmt.Fprintln(r.out, dimStyle.Render(fmt.Sprintf("sibling #%d (globals are not shared)", len(r.siblings))))
	if code == "" {
		return
	}
	result, _, err := r.eval(sib, code)
	if err != nil {
		r.printError(err)
		return
	}
	fmt.Fprintln(r.out, formatResult(result))
}

func (r *repl) cmdStats() {
	stats, err := r.stats()
	if err != nil {
		r.printError(err)
		return
	}
	names := make([]string, 0, len(stats))
	for name := range stats {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(r.out, titleStyle.Render("Ownership Counters"))
	for _, name := range names {
		fmt.Fprintf(r.out, "  %s  %g\n", dimStyle.Render(fmt.Sprintf("%-52s", name)), stats[name])
	}
}

// needsContinuation reports whether line leaves a bracket or string open.
func needsContinuation(line string) bool {
	opens := 0
	inString := false
	var quote byte
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if inString {
			if ch == '\\' {
				i++
				continue
			}
			if ch == quote {
				inString = false
			}
			continue
		}
		switch ch {
		case '"', '\'', '`':
			inString = true
			quote = ch
		case '{', '(', '[':
			opens++
		case '}', ')', ']':
			opens--
		}
	}
	return opens > 0 || inString
}

func fatalf(format string, args ...any) {
	fmt.Fprintln(os.Stderr, errorStyle.Render("Error:")+" "+fmt.Sprintf(format, args...))
}
