// Package enginetest provides a fake external engine for tests.
//
// The fake re-executes the running test binary, which must hand control to
// Main from TestMain:
//
//	func TestMain(m *testing.M) {
//		if enginetest.IsHelper() {
//			os.Exit(enginetest.Main(os.Args))
//		}
//		os.Exit(m.Run())
//	}
//
// Command then returns a backend.Command that starts the fake in a given
// scenario. The fake reads workbooks with excelize and honors the same
// command-line and stdout contract as the real engine script.
package enginetest

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/kcoder666/sheetflow/internal/backend"
)

const (
	envHelper   = "SHEETFLOW_FAKE_ENGINE"
	envScenario = "SHEETFLOW_FAKE_ENGINE_SCENARIO"
	envLog      = "SHEETFLOW_FAKE_ENGINE_LOG"
)

// Scenarios.
const (
	// OK behaves like a working engine.
	OK = "ok"
	// Fail prints a traceback on stderr and exits 2.
	Fail = "fail"
	// Hang sleeps until killed.
	Hang = "hang"
	// Garbage prints non-JSON output for listings.
	Garbage = "garbage"
)

// IsHelper reports whether the current process was started by Command.
func IsHelper() bool {
	return os.Getenv(envHelper) == "1"
}

// Command returns a command running the fake engine in scenario.
func Command(scenario string) backend.Command {
	return backend.Command{
		Path: os.Args[0],
		Args: []string{"-test.run=^$", "--"},
		Env:  []string{envHelper + "=1", envScenario + "=" + scenario},
		Mode: "fake",
	}
}

// CommandWithLog is Command plus an invocation log: every run appends its
// arguments as one line to logPath.
func CommandWithLog(scenario, logPath string) backend.Command {
	cmd := Command(scenario)
	cmd.Env = append(cmd.Env, envLog+"="+logPath)
	return cmd
}

// Invocations reads the lines written by CommandWithLog runs.
func Invocations(logPath string) []string {
	data, err := os.ReadFile(logPath)
	if err != nil {
		return nil
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

// Main runs the fake engine and returns its exit code.
func Main(argv []string) int {
	args := argv
	for i, a := range argv {
		if a == "--" {
			args = argv[i+1:]
			break
		}
	}

	if logPath := os.Getenv(envLog); logPath != "" {
		if f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600); err == nil {
			fmt.Fprintln(f, strings.Join(args, " "))
			f.Close()
		}
	}

	switch os.Getenv(envScenario) {
	case Fail:
		fmt.Println("Reading input...")
		fmt.Fprintln(os.Stderr, "Traceback (most recent call last):")
		fmt.Fprintln(os.Stderr, "ValueError: engine exploded")
		return 2
	case Hang:
		fmt.Println("Reading input...")
		time.Sleep(time.Minute)
		return 0
	case Garbage:
		fmt.Println("this is not json")
		return 0
	}

	if len(args) == 2 && args[0] == "--list-sheets" {
		return listSheets(args[1])
	}
	if len(args) < 3 {
		fmt.Println("ERROR: Invalid arguments")
		return 1
	}
	maxRows, _ := strconv.Atoi(argOr(args, 3))
	maxMB, _ := strconv.ParseFloat(argOr(args, 4), 64)
	return convert(args[0], args[1], args[2], maxRows, int64(maxMB*1024*1024))
}

func argOr(args []string, i int) string {
	if i < len(args) && args[i] != "None" {
		return args[i]
	}
	return "0"
}

type sheet struct {
	Name       string `json:"name"`
	Columns    int    `json:"columns"`
	Rows       int    `json:"rows"`
	Accessible bool   `json:"accessible"`
}

func listSheets(path string) int {
	f, err := excelize.OpenFile(path)
	if err != nil {
		json.NewEncoder(os.Stdout).Encode(map[string]any{"success": false, "error": err.Error()})
		return 1
	}
	defer f.Close()

	var sheets []sheet
	for _, name := range f.GetSheetList() {
		rows, cols, err := backend.Extent(f, name)
		sheets = append(sheets, sheet{Name: name, Columns: cols, Rows: rows, Accessible: err == nil})
	}
	json.NewEncoder(os.Stdout).Encode(map[string]any{"success": true, "sheets": sheets})
	return 0
}

func convert(input, sheetName, output string, maxRows int, maxBytes int64) int {
	fmt.Printf("Reading %s...\n", input)
	f, err := excelize.OpenFile(input)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}
	defer f.Close()

	raw, err := f.GetRows(sheetName)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}
	fmt.Printf("Read %d rows\n", len(raw))

	var rows [][]string
	for _, r := range raw {
		if strings.TrimSpace(strings.Join(r, "")) != "" {
			rows = append(rows, r)
		}
	}
	fmt.Printf("After removing empty rows: %d rows\n", len(rows))
	if len(rows) == 0 {
		fmt.Println("ERROR: No data found")
		return 1
	}

	part, count, size := 1, 0, int64(0)
	var chunk [][]string
	flush := func() error {
		path := output
		if part > 1 {
			path = strings.TrimSuffix(output, filepath.Ext(output)) + "_part" + strconv.Itoa(part) + ".csv"
		}
		out, err := os.Create(path)
		if err != nil {
			return err
		}
		if err := csv.NewWriter(out).WriteAll(chunk); err != nil {
			out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		fmt.Printf("Created %s with %d rows\n", path, len(chunk))
		return nil
	}

	for _, r := range rows {
		n := int64(len(strings.Join(r, ",")) + 1)
		full := (maxRows > 0 && count >= maxRows) || (maxBytes > 0 && size+n > maxBytes)
		if full && count > 0 {
			if err := flush(); err != nil {
				fmt.Printf("ERROR: %v\n", err)
				return 1
			}
			part, count, size, chunk = part+1, 0, 0, nil
		}
		chunk = append(chunk, r)
		count++
		size += n
	}
	if err := flush(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		return 1
	}
	fmt.Printf("SUCCESS: %d rows\n", len(rows))
	return 0
}
