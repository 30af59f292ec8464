package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/chzyer/readline"

	"github.com/flatkv/flatkv/pkg/block"
	"github.com/flatkv/flatkv/pkg/common/log"
	"github.com/flatkv/flatkv/pkg/config"
	"github.com/flatkv/flatkv/pkg/dump"
	"github.com/flatkv/flatkv/pkg/store"
)

// Command completer for readline
var completer = readline.NewPrefixCompleter(
	readline.PcItem(".help"),
	readline.PcItem(".open"),
	readline.PcItem(".close"),
	readline.PcItem(".stats"),
	readline.PcItem(".errors"),
	readline.PcItem(".clearerrors"),
	readline.PcItem(".verify"),
	readline.PcItem(".blocks"),
	readline.PcItem(".dump"),
	readline.PcItem(".restore"),
	readline.PcItem(".truncate"),
	readline.PcItem(".exit"),
	readline.PcItem("PUT"),
	readline.PcItem("GET"),
	readline.PcItem("DELETE"),
	readline.PcItem("UPSERT"),
	readline.PcItem("SCAN"),
	readline.PcItem("FIRST"),
	readline.PcItem("LAST"),
)

const helpText = `
flatkv - a persistent key-value store over a single data file.

Usage:
  flatkv [options] [database_path]  - Start with an optional data file

Options:
  -config string          - Load settings from a JSON config file

Commands:
  .help                   - Show this help message
  .open PATH              - Open a data file at PATH
  .close                  - Close the current data file
  .stats                  - Show store statistics
  .errors                 - Show the sticky error flags
  .clearerrors            - Clear the sticky error flags
  .verify                 - Check the data file against the in-memory state
  .blocks                 - Print the physical block map
  .dump PATH              - Write a compressed snapshot to PATH
  .restore PATH           - Replay a snapshot from PATH into the store
  .truncate               - Discard every pair
  .exit                   - Exit the program

  PUT key value           - Store a key-value pair (insert or update)
  GET key                 - Retrieve a value by key
  DELETE key              - Delete a key-value pair
  SCAN [prefix]           - List pairs in key order, optionally by prefix
  FIRST                   - Show the smallest key
  LAST                    - Show the largest key
`

func main() {
	configPath := flag.String("config", "", "JSON config file")
	flag.Parse()

	cfg := config.NewDefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadFromFile(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %s\n", err)
			os.Exit(1)
		}
		cfg = loaded
	}
	log.SetLevel(log.ParseLevel(cfg.LogLevel))

	s := store.New(block.String(), block.String(), store.WithConfig(cfg))

	dbPath := cfg.DataFile
	if flag.NArg() > 0 {
		dbPath = flag.Arg(0)
	}
	if dbPath != "" {
		fmt.Printf("Opening data file at %s\n", dbPath)
		if err := s.Open(dbPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error opening data file: %s\n", err)
			os.Exit(1)
		}
		defer s.Close()
	}

	runShell(s)
}

func runShell(s *store.Store[string, string]) {
	fmt.Println("flatkv interactive shell")
	fmt.Println("Enter .help for usage hints")

	rl, err := readline.NewEx(&readline.Config{
		Prompt:       "flatkv> ",
		AutoComplete: completer,
		EOFPrompt:    ".exit",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing readline: %s\n", err)
		os.Exit(1)
	}
	defer rl.Close()

	for {
		line, err := rl.Readline()
		if err == readline.ErrInterrupt {
			continue
		}
		if err == io.EOF {
			break
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == ".exit" {
			break
		}
		dispatch(s, line)
	}
}

func dispatch(s *store.Store[string, string], line string) {
	parts := strings.SplitN(line, " ", 3)
	cmd := parts[0]

	switch strings.ToUpper(cmd) {
	case ".HELP":
		fmt.Print(helpText)

	case ".OPEN":
		if len(parts) < 2 {
			fmt.Println("Usage: .open PATH")
			return
		}
		if err := s.Open(parts[1]); err != nil {
			fmt.Printf("Error: %s\n", err)
			return
		}
		fmt.Printf("Opened %s (%d keys)\n", parts[1], s.Size())

	case ".CLOSE":
		if err := s.Close(); err != nil {
			fmt.Printf("Error: %s\n", err)
			return
		}
		fmt.Println("Closed")

	case ".STATS":
		fmt.Printf("keys: %d, file bytes: %d\n", s.Size(), s.FileSize())
		for k, v := range s.Stats() {
			fmt.Printf("  %s: %v\n", k, v)
		}

	case ".ERRORS":
		printFlags(s.ErrorFlags())

	case ".CLEARERRORS":
		s.ClearErrorFlags()
		fmt.Println("Cleared")

	case ".VERIFY":
		if err := s.Verify(); err != nil {
			fmt.Printf("FAILED: %s\n", err)
			return
		}
		fmt.Println("OK")

	case ".BLOCKS":
		if err := s.DumpStructure(os.Stdout); err != nil {
			fmt.Printf("Error: %s\n", err)
		}

	case ".DUMP":
		if len(parts) < 2 {
			fmt.Println("Usage: .dump PATH")
			return
		}
		f, err := os.Create(parts[1])
		if err != nil {
			fmt.Printf("Error: %s\n", err)
			return
		}
		defer f.Close()
		if err := dump.Snapshot(s, f); err != nil {
			fmt.Printf("Error: %s\n", err)
			return
		}
		fmt.Printf("Wrote %d pairs to %s\n", s.Size(), parts[1])

	case ".RESTORE":
		if len(parts) < 2 {
			fmt.Println("Usage: .restore PATH")
			return
		}
		f, err := os.Open(parts[1])
		if err != nil {
			fmt.Printf("Error: %s\n", err)
			return
		}
		defer f.Close()
		if err := dump.Restore(s, f); err != nil {
			fmt.Printf("Error: %s\n", err)
			return
		}
		fmt.Printf("Restored %d pairs\n", s.Size())

	case ".TRUNCATE":
		if err := s.Truncate(); err != nil {
			fmt.Printf("Error: %s\n", err)
			return
		}
		fmt.Println("Truncated")

	case "PUT", "UPSERT":
		if len(parts) < 3 {
			fmt.Printf("Usage: %s key value\n", cmd)
			return
		}
		if err := s.Upsert(parts[1], parts[2]); err != nil {
			fmt.Printf("Error: %s\n", err)
			return
		}
		fmt.Println("OK")

	case "GET":
		if len(parts) < 2 {
			fmt.Println("Usage: GET key")
			return
		}
		value, err := s.FindValue(parts[1])
		if err != nil {
			fmt.Printf("Error: %s\n", err)
			return
		}
		fmt.Println(value)

	case "DELETE", "DEL":
		if len(parts) < 2 {
			fmt.Println("Usage: DELETE key")
			return
		}
		if err := s.Delete(parts[1]); err != nil {
			fmt.Printf("Error: %s\n", err)
			return
		}
		fmt.Println("OK")

	case "SCAN":
		prefix := ""
		if len(parts) > 1 {
			prefix = parts[1]
		}
		scan(s, prefix)

	case "FIRST":
		key, off, err := s.First()
		if err != nil {
			fmt.Printf("Error: %s\n", err)
			return
		}
		fmt.Printf("%s @ %d\n", key, off)

	case "LAST":
		key, off, err := s.Last()
		if err != nil {
			fmt.Printf("Error: %s\n", err)
			return
		}
		fmt.Printf("%s @ %d\n", key, off)

	default:
		fmt.Printf("Unknown command %q; try .help\n", cmd)
	}
}

func scan(s *store.Store[string, string], prefix string) {
	it, err := s.Iterate()
	if err != nil {
		fmt.Printf("Error: %s\n", err)
		return
	}
	defer it.Close()

	count := 0
	for ; it.Valid(); it.Next() {
		if prefix != "" && !strings.HasPrefix(it.Key(), prefix) {
			continue
		}
		value, err := it.Value()
		if err != nil {
			fmt.Printf("Error reading %s: %s\n", it.Key(), err)
			continue
		}
		fmt.Printf("%s: %s\n", it.Key(), value)
		count++
	}
	fmt.Printf("%d pairs\n", count)
}

func printFlags(flags store.Flags) {
	if flags == 0 {
		fmt.Println("none")
		return
	}
	names := []struct {
		flag store.Flags
		name string
	}{
		{store.FlagAlloc, "alloc"},
		{store.FlagNotFound, "not-found"},
		{store.FlagNotUnique, "not-unique"},
		{store.FlagDataChanged, "data-changed"},
		{store.FlagIO, "io"},
		{store.FlagWrongState, "wrong-state"},
	}
	var set []string
	for _, n := range names {
		if flags.Has(n.flag) {
			set = append(set, n.name)
		}
	}
	fmt.Println(strings.Join(set, ", "))
}
