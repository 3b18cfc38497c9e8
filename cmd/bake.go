package cmd

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/auriga-rt/auriga/asset/scene/reader"
	"github.com/auriga-rt/auriga/tracer"
	"github.com/auriga-rt/auriga/tracer/device"
)

// Load a scene and run the full acceleration structure pipeline against a
// compute device.
func BakeScene(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() != 1 {
		return errors.New("missing scene file argument")
	}

	sc, err := reader.ReadScene(ctx.Args().First())
	if err != nil {
		return err
	}

	opts := tracer.Options{
		DeviceName:      ctx.String("device"),
		AtlasResolution: uint32(ctx.Int("atlas-res")),
	}

	dev, err := device.Open(opts.DeviceName)
	if err != nil {
		return err
	}
	defer dev.Close()
	logger.Noticef("using device %q", dev.Name)

	rs, err := tracer.Setup(dev, sc, nil, opts)
	if err != nil {
		return err
	}
	defer rs.Release()

	displayRenderSceneStats(rs)
	return nil
}

func displayRenderSceneStats(rs *tracer.RenderScene) {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Mesh", "Geometries", "Size", "Address"})
	for meshID, blas := range rs.Meshes {
		handle, _ := blas.Handle()
		table.Append([]string{
			fmt.Sprintf("%02d", meshID),
			fmt.Sprintf("%d", blas.GeometryCount()),
			fmt.Sprintf("%d", blas.Size()),
			fmt.Sprintf("%#x", handle.Address()),
		})
	}
	topHandle, _ := rs.TopLevel.Handle()
	table.SetFooter([]string{"", "TOP LEVEL", fmt.Sprintf("%d", rs.TopLevel.Size()), fmt.Sprintf("%#x", topHandle.Address())})

	table.Render()
	logger.Noticef("baked scene (atlas %dx%d):\n%s", rs.AtlasWidth, rs.AtlasHeight, buf.String())
}
