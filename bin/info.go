package main

import (
	"encoding/json"
	"fmt"
	"io/ioutil"

	"github.com/Velocidex/ordereddict"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/go-wim/wim"
)

var (
	info_command = app.Command(
		"info", "Show a summary of a metadata resource.")

	info_command_file_arg = info_command.Arg(
		"file", "An uncompressed metadata resource file.",
	).Required().String()
)

func doInfo() {
	buf, err := ioutil.ReadFile(*info_command_file_arg)
	kingpin.FatalIfError(err, "Can not read metadata resource")

	img, err := wim.ReadMetadataResource(buf, nil, true)
	kingpin.FatalIfError(err, "Can not parse metadata resource")

	var dentries, hard_links, reparse_points, named_streams int
	if img.Root != nil {
		img.Root.Walk(func(dentry *wim.Dentry) error {
			dentries++
			if dentry.Inode.LinkCount > 1 {
				hard_links++
			}
			return nil
		})
	}

	for _, inode := range img.Inodes {
		if inode.IsReparsePoint() {
			reparse_points++
		}
		named_streams += len(inode.NamedDataStreams())
	}

	result := ordereddict.NewDict().
		Set("File", *info_command_file_arg).
		Set("ResourceSize", len(buf)).
		Set("EmptyImage", img.Root == nil).
		Set("Dentries", dentries).
		Set("Inodes", len(img.Inodes)).
		Set("HardLinkedDentries", hard_links).
		Set("ReparsePoints", reparse_points).
		Set("NamedStreams", named_streams).
		Set("SecurityDescriptors", int(img.SecurityData.NumEntries())).
		Set("SecurityDataLength", int(img.SecurityData.TotalLength()))

	serialized, _ := json.MarshalIndent(result, "", " ")
	fmt.Println(string(serialized))
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case info_command.FullCommand():
			doInfo()
		default:
			return false
		}
		return true
	})
}
