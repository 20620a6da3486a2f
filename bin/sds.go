package main

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/go-wim/wim"
)

var (
	sds_command = app.Command(
		"sds", "Dump the security descriptor stream of a volume.")

	sds_command_device_arg = sds_command.Arg(
		"device", "The NTFS device or image file to inspect.",
	).Required().String()

	sds_command_image_offset = sds_command.Flag(
		"image_offset", "An offset into the device file.",
	).Default("0").Int64()
)

func doSDS() {
	vol, err := wim.MountVolumeReadOnly(
		*sds_command_device_arg, *sds_command_image_offset)
	kingpin.FatalIfError(err, "Can not mount volume")
	defer vol.Put()

	cache, err := wim.LoadSecurityCache(vol)
	kingpin.FatalIfError(err, "Can not read $Secure")

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Security Id", "Size"})

	for _, id := range cache.Ids() {
		sd, _ := cache.Lookup(id)
		table.Append([]string{
			fmt.Sprintf("%d", id),
			fmt.Sprintf("%d", len(sd)),
		})
	}

	table.SetCaption(true, fmt.Sprintf(
		"$Secure:$SDS of %v", *sds_command_device_arg))
	table.Render()
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case sds_command.FullCommand():
			doSDS()
		default:
			return false
		}
		return true
	})
}
