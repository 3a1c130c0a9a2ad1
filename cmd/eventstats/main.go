// Command eventstats aggregates the observability events a JSON-logging
// task-api writes, read from stdin.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
)

func main() {
	var (
		outPath   string
		eventName string
		domain    string
	)
	flag.StringVar(&outPath, "out", "", "path to write the aggregated JSON report (stdout when empty)")
	flag.StringVar(&eventName, "event-name", requestEventName, "observability event name to collect")
	flag.StringVar(&domain, "event-domain", requestEventDomain, "observability event domain to match")
	flag.Parse()

	c := newCollector(eventName, domain)
	if err := collect(os.Stdin, c); err != nil {
		log.Fatalf("read logs: %v", err)
	}
	r := c.report()

	data, err := sonic.ConfigStd.MarshalIndent(r, "", "  ")
	if err != nil {
		log.Fatalf("encode report: %v", err)
	}
	if outPath == "" {
		fmt.Println(string(data))
		return
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		log.Fatalf("create output directory: %v", err)
	}
	if err := os.WriteFile(outPath, append(data, '\n'), 0o644); err != nil {
		log.Fatalf("write report: %v", err)
	}
	fmt.Println(r.oneLine())
}

func collect(r io.Reader, c *collector) error {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadString('\n')
		if len(line) != 0 {
			c.ingest(line)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
