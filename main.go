package main

import (
	"os"

	"github.com/urfave/cli"

	"github.com/auriga-rt/auriga/cmd"
	"github.com/auriga-rt/auriga/tracer"
)

func main() {
	cli.VersionFlag = cli.BoolFlag{
		Name:  "version",
		Usage: "print only the version",
	}

	app := cli.NewApp()
	app.Name = "auriga"
	app.Usage = "build ray tracing acceleration structures from scene files"
	app.Version = "0.0.1"
	app.Flags = []cli.Flag{
		cli.BoolFlag{
			Name:  "v",
			Usage: "enable verbose logging",
		},
		cli.BoolFlag{
			Name:  "vv",
			Usage: "enable even more verbose logging",
		},
	}
	app.Commands = []cli.Command{
		{
			Name:  "compile",
			Usage: "compile text scene representation into a binary packed format",
			Description: `
Parse a scene definition from a wavefront obj or glTF file and package the
scene elements into a single binary container.

The packed scene can be supplied as an argument to any other command.`,
			ArgsUsage: "scene_file1.obj scene_file2.gltf ...",
			Action:    cmd.CompileScene,
		},
		{
			Name:      "info",
			Usage:     "display information about a scene file",
			ArgsUsage: "scene_file.crts",
			Action:    cmd.ShowSceneInfo,
		},
		{
			Name:  "bake",
			Usage: "build the acceleration structures for a scene",
			Description: `
Load a scene, lay its geometry out on a shared UV atlas and build the
two-level ray tracing acceleration structure on a compute device.`,
			ArgsUsage: "scene_file.crts",
			Flags: []cli.Flag{
				cli.StringFlag{
					Name:  "device",
					Usage: "compute device to use; empty selects the first device",
				},
				cli.IntFlag{
					Name:  "atlas-res",
					Value: tracer.DefaultAtlasResolution,
					Usage: "square atlas resolution in pixels",
				},
			},
			Action: cmd.BakeScene,
		},
		{
			Name:   "list-devices",
			Usage:  "list available compute devices",
			Action: cmd.ListDevices,
		},
	}

	app.Run(os.Args)
}
