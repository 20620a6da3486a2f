package main

import (
	"fmt"
	"io/ioutil"
	"os"

	"github.com/olekukonko/tablewriter"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/go-wim/wim"
)

var (
	tree_command = app.Command(
		"tree", "List the dentry tree of a metadata resource.")

	tree_command_file_arg = tree_command.Arg(
		"file", "An uncompressed metadata resource file.",
	).Required().String()
)

func doTree() {
	buf, err := ioutil.ReadFile(*tree_command_file_arg)
	kingpin.FatalIfError(err, "Can not read metadata resource")

	img, err := wim.ReadMetadataResource(buf, nil, true)
	kingpin.FatalIfError(err, "Can not parse metadata resource")

	if img.Root == nil {
		fmt.Println("Empty image.")
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{
		"Path",
		"Short Name",
		"Attributes",
		"Links",
		"Streams",
		"SD",
	})

	img.Root.Walk(func(dentry *wim.Dentry) error {
		inode := dentry.Inode
		table.Append([]string{
			dentry.FullPath(),
			dentry.ShortName,
			fmt.Sprintf("%#x", inode.Attributes),
			fmt.Sprintf("%d", inode.LinkCount),
			fmt.Sprintf("%d", len(inode.Streams)),
			fmt.Sprintf("%d", inode.SecurityId),
		})
		return nil
	})

	table.SetCaption(true, fmt.Sprintf(
		"Dentry tree of %v", *tree_command_file_arg))
	table.Render()
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case tree_command.FullCommand():
			doTree()
		default:
			return false
		}
		return true
	})
}
