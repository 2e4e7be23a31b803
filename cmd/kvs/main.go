// Command kvs is a thin CLI driver over the core storage engine. It owns
// argument parsing, error formatting for end users, and process exit
// codes; none of the storage logic lives here.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/finch-kv/kvs/core"
)

const version = "0.1.0"

func usage() {
	fmt.Fprintln(os.Stderr, "usage:")
	fmt.Fprintln(os.Stderr, "  kvs set KEY VALUE")
	fmt.Fprintln(os.Stderr, "  kvs get KEY")
	fmt.Fprintln(os.Stderr, "  kvs rm KEY")
	fmt.Fprintln(os.Stderr, "  kvs --version")
	os.Exit(1)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	if os.Args[1] == "--version" {
		fmt.Println(version)
		return
	}

	dataDir, err := os.Getwd()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to determine data directory: %v\n", err)
		os.Exit(1)
	}

	switch action := os.Args[1]; action {
	case "set":
		if len(os.Args) != 4 {
			usage()
		}
		runSet(dataDir, os.Args[2], os.Args[3])

	case "get":
		if len(os.Args) != 3 {
			usage()
		}
		runGet(dataDir, os.Args[2])

	case "rm":
		if len(os.Args) != 3 {
			usage()
		}
		runRemove(dataDir, os.Args[2])

	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", action)
		usage()
	}
}

func openEngine(dataDir string) *core.Engine {
	e, err := core.Open(dataDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open database: %v\n", err)
		os.Exit(1)
	}
	return e
}

func runSet(dataDir, key, val string) {
	e := openEngine(dataDir)
	defer e.Close() // nolint:errcheck

	if err := e.Set(key, val); err != nil {
		fmt.Fprintf(os.Stderr, "failed to set key: %v\n", err)
		os.Exit(1)
	}
}

func runGet(dataDir, key string) {
	e := openEngine(dataDir)
	defer e.Close() // nolint:errcheck

	val, ok, err := e.Get(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get key: %v\n", err)
		os.Exit(1)
	}
	if !ok {
		fmt.Println("Key not found")
		return
	}
	fmt.Println(val)
}

func runRemove(dataDir, key string) {
	e := openEngine(dataDir)
	defer e.Close() // nolint:errcheck

	if err := e.Remove(key); err != nil {
		if errors.Is(err, core.ErrKeyNotFound) {
			fmt.Println("Key not found")
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "failed to remove key: %v\n", err)
		os.Exit(1)
	}
}
