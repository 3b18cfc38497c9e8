package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli"

	"github.com/auriga-rt/auriga/asset/scene"
	"github.com/auriga-rt/auriga/asset/scene/reader"
	"github.com/auriga-rt/auriga/asset/scene/writer"
)

// Compile scenes to the packed binary format.
func CompileScene(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() == 0 {
		return errors.New("missing scene file argument")
	}

	for idx := 0; idx < ctx.NArg(); idx++ {
		sceneFile := ctx.Args().Get(idx)
		if strings.HasSuffix(sceneFile, ".crts") {
			logger.Warningf("skipping %s; already compiled", sceneFile)
			continue
		}

		logger.Noticef("parsing and compiling scene: %s", sceneFile)
		sc, err := reader.ReadScene(sceneFile)
		if err != nil {
			return err
		}

		logger.Noticef("scene information:\n%s", sceneStats(sc))

		ext := filepath.Ext(sceneFile)
		outFile := strings.TrimSuffix(sceneFile, ext) + ".crts"
		if err = writer.WriteScene(sc, outFile); err != nil {
			return err
		}
	}

	return nil
}

// Display scene info.
func ShowSceneInfo(ctx *cli.Context) error {
	setupLogging(ctx)

	if ctx.NArg() != 1 {
		return errors.New("missing scene file argument")
	}

	sc, err := reader.ReadScene(ctx.Args().First())
	if err != nil {
		return err
	}

	logger.Noticef("scene information:\n%s", sceneStats(sc))
	return nil
}

func sceneStats(sc *scene.Scene) string {
	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.SetAutoFormatHeaders(false)
	table.SetHeader([]string{"Entity", "Count"})
	for _, row := range [][2]interface{}{
		{"Meshes", len(sc.Meshes)},
		{"Geometries", sc.NumGeometries()},
		{"Instances", len(sc.Instances)},
		{"Unique triangles", sc.UniqueTris()},
		{"Instanced triangles", sc.TotalTris()},
		{"Materials", len(sc.Materials)},
		{"Textures", len(sc.Textures)},
		{"Lights", len(sc.Lights)},
		{"Cameras", len(sc.Cameras)},
	} {
		table.Append([]string{row[0].(string), fmt.Sprintf("%d", row[1])})
	}

	table.Render()
	return buf.String()
}
