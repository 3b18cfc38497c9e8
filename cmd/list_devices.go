package cmd

import (
	"bytes"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/auriga-rt/auriga/tracer/device"
)

// List available compute devices.
func ListDevices(ctx *cli.Context) error {
	setupLogging(ctx)

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Device", "Name"})
	for idx, name := range device.Enumerate() {
		table.Append([]string{fmt.Sprintf("%02d", idx), name})
	}

	table.Render()
	logger.Noticef("available devices:\n%s", buf.String())
	return nil
}
