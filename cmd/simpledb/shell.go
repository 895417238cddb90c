package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/peterh/liner"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"mit.edu/dsg/simpledb"
	"mit.edu/dsg/simpledb/common"
	"mit.edu/dsg/simpledb/execution"
	"mit.edu/dsg/simpledb/storage"
)

const shellHistory = ".simpledb_history"

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the database and an interactive shell",
	RunE:  startRun,
}

func init() {
	fs := startCmd.Flags()
	fs.IntVar(&cfg.NumPages, "num-pages", cfg.NumPages, "buffer pool capacity in `pages`")
	fs.StringVar(&cfg.DataDir, "data", cfg.DataDir, "`directory` containing table files")
	fs.StringVar(&cfg.LogPath, "wal", cfg.LogPath, "write-ahead log `file`")
}

func startRun(cmd *cobra.Command, args []string) error {
	db, err := simpledb.Open(cfg)
	if err != nil {
		return err
	}
	defer db.Shutdown()

	if err := db.Recover(); err != nil {
		return err
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	if f, err := os.Open(shellHistory); err == nil {
		line.ReadHistory(f)
		f.Close()
	}
	defer func() {
		if f, err := os.Create(shellHistory); err == nil {
			line.WriteHistory(f)
			f.Close()
		}
	}()

	for {
		input, err := line.Prompt("simpledb: ")
		if err != nil {
			fmt.Println()
			return nil
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		line.AppendHistory(input)
		if input == "exit" || input == "quit" {
			return nil
		}
		if err := runCommand(db, input); err != nil {
			fmt.Fprintf(os.Stderr, "error: %s\n", err)
		}
	}
}

// runCommand executes one shell command inside its own transaction.
func runCommand(db *simpledb.Database, input string) error {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "help":
		fmt.Print(`commands:
  tables                          list tables
  create <name> <type,...>        create a table, e.g. create t int,string
  insert <table> <values...>      insert one tuple
  scan <table>                    print every tuple
  delete <table> <field> <op> <v> delete matching tuples, e.g. delete t id = 3
  checkpoint                      checkpoint and truncate the log
`)
		return nil
	case "tables":
		for _, name := range db.Catalog.TableNames() {
			fmt.Println(name)
		}
		return nil
	case "create":
		return createTable(db, args)
	case "checkpoint":
		return db.Log.LogCheckpoint()
	case "insert", "scan", "delete":
		return inTransaction(db, func(tid common.TransactionID) error {
			switch cmd {
			case "insert":
				return insertTuple(db, tid, args)
			case "scan":
				return scanTable(db, tid, args)
			default:
				return deleteTuples(db, tid, args)
			}
		})
	}
	return fmt.Errorf("unknown command %q; try help", cmd)
}

func inTransaction(db *simpledb.Database, body func(common.TransactionID) error) error {
	tid, err := db.Begin()
	if err != nil {
		return err
	}
	if err := body(tid); err != nil {
		if abortErr := db.Abort(tid); abortErr != nil {
			log.WithError(abortErr).Warn("abort failed")
		}
		return err
	}
	return db.Commit(tid)
}

func createTable(db *simpledb.Database, args []string) error {
	if len(args) != 2 {
		return fmt.Errorf("usage: create <name> <type,...>")
	}
	name := args[0]
	specs := strings.Split(args[1], ",")
	types := make([]common.Type, len(specs))
	names := make([]string, len(specs))
	for i, s := range specs {
		switch s {
		case "int":
			types[i] = common.IntType
		case "string":
			types[i] = common.StringType
		default:
			return fmt.Errorf("unknown type %q", s)
		}
		names[i] = fmt.Sprintf("f%d", i)
	}
	_, err := db.CreateTable(name, storage.NewTupleDesc(types, names))
	return err
}

func tableFile(db *simpledb.Database, name string) (storage.DbFile, error) {
	id, err := db.Catalog.TableID(name)
	if err != nil {
		return nil, err
	}
	return db.Catalog.DatabaseFile(id)
}

func parseValue(t common.Type, s string) (common.Value, error) {
	switch t {
	case common.IntType:
		n, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return common.Value{}, fmt.Errorf("bad int %q", s)
		}
		return common.NewIntValue(n), nil
	case common.StringType:
		if len(s) > common.StringLength {
			return common.Value{}, fmt.Errorf("string %q too long", s)
		}
		return common.NewStringValue(s), nil
	}
	return common.Value{}, fmt.Errorf("unknown type")
}

func insertTuple(db *simpledb.Database, tid common.TransactionID, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: insert <table> <values...>")
	}
	file, err := tableFile(db, args[0])
	if err != nil {
		return err
	}
	td := file.TupleDesc()
	if len(args)-1 != td.NumFields() {
		return fmt.Errorf("table %s wants %d values", args[0], td.NumFields())
	}
	values := make([]common.Value, td.NumFields())
	for i := range values {
		if values[i], err = parseValue(td.FieldType(i), args[i+1]); err != nil {
			return err
		}
	}
	return db.BufferPool.InsertTuple(tid, file.ID(), storage.NewTuple(td, values))
}

func scanTable(db *simpledb.Database, tid common.TransactionID, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: scan <table>")
	}
	file, err := tableFile(db, args[0])
	if err != nil {
		return err
	}
	scan := execution.NewSeqScan(db.BufferPool, file, tid)
	if err := scan.Open(); err != nil {
		return err
	}
	defer scan.Close()

	td := scan.Descriptor()
	header := make([]string, td.NumFields())
	for i := range header {
		header[i] = td.FieldName(i)
	}
	tw := tablewriter.NewWriter(os.Stdout)
	tw.SetHeader(header)
	rows := 0
	for scan.Next() {
		t := scan.Current()
		row := make([]string, td.NumFields())
		for i := range row {
			row[i] = t.Field(i).String()
		}
		tw.Append(row)
		rows++
	}
	if err := scan.Error(); err != nil {
		return err
	}
	tw.Render()
	fmt.Printf("%d rows\n", rows)
	return nil
}

var shellOps = map[string]execution.PredicateOp{
	"=":  execution.Equals,
	">":  execution.GreaterThan,
	"<":  execution.LessThan,
	"<=": execution.LessThanOrEq,
	">=": execution.GreaterThanOrEq,
	"<>": execution.NotEquals,
}

func deleteTuples(db *simpledb.Database, tid common.TransactionID, args []string) error {
	if len(args) != 4 {
		return fmt.Errorf("usage: delete <table> <field> <op> <value>")
	}
	file, err := tableFile(db, args[0])
	if err != nil {
		return err
	}
	td := file.TupleDesc()
	fieldIdx, err := td.FieldIndex(args[1])
	if err != nil {
		return err
	}
	op, ok := shellOps[args[2]]
	if !ok {
		return fmt.Errorf("unknown operator %q", args[2])
	}
	operand, err := parseValue(td.FieldType(fieldIdx), args[3])
	if err != nil {
		return err
	}

	scan := execution.NewSeqScan(db.BufferPool, file, tid)
	filter := execution.NewFilter(execution.NewPredicate(fieldIdx, op, operand), scan)
	del := execution.NewDelete(db.BufferPool, tid, filter)
	if err := del.Open(); err != nil {
		return err
	}
	defer del.Close()
	if del.Next() {
		fmt.Printf("%d rows deleted\n", del.Current().Field(0).IntValue())
	}
	return del.Error()
}
