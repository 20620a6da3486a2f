package main

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"os"

	"github.com/olekukonko/tablewriter"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
	"www.velocidex.com/golang/go-wim/wim"
)

var (
	capture_command = app.Command(
		"capture", "Capture an NTFS volume into WIM image metadata.")

	capture_command_device_arg = capture_command.Arg(
		"device", "The NTFS device or image file to capture.",
	).Required().String()

	capture_command_output = capture_command.Flag(
		"output", "Write the uncompressed metadata resource to this file.",
	).String()

	capture_command_profile = capture_command.Flag(
		"profile", "A YAML capture profile.",
	).String()

	capture_command_image_offset = capture_command.Flag(
		"image_offset", "An offset into the device file.",
	).Default("0").Int64()

	capture_command_no_acls = capture_command.Flag(
		"no_acls", "Do not capture security descriptors.",
	).Bool()

	capture_command_rpfix = capture_command.Flag(
		"rpfix", "Mark symlink targets as fixed.",
	).Bool()

	capture_command_verbose = capture_command.Flag(
		"verbose", "Print each captured path.",
	).Short('v').Bool()
)

// fileResourceWriter stands in for the compressed resource layer: it
// stores the metadata resource uncompressed for inspection.
type fileResourceWriter struct {
	filename string
}

func (self *fileResourceWriter) WriteMetadata(buf []byte) ([20]byte, error) {
	if self.filename != "" {
		err := ioutil.WriteFile(self.filename, buf, 0644)
		if err != nil {
			return [20]byte{}, err
		}
	}
	return sha1.Sum(buf), nil
}

func doCapture() {
	params := &wim.CaptureParams{}

	if *capture_command_profile != "" {
		profile, err := LoadCaptureProfile(*capture_command_profile)
		kingpin.FatalIfError(err, "Can not load capture profile")

		params.Flags = profile.Flags()
		params.Exclude = profile.Excluder()
	}

	if *capture_command_no_acls {
		params.Flags |= wim.ADD_FLAG_NO_ACLS
	}
	if *capture_command_rpfix {
		params.Flags |= wim.ADD_FLAG_RPFIX
	}

	var files, dirs, excluded, unsupported int
	params.Progress = func(event wim.ScanEvent,
		filename string, inode *wim.Inode) error {

		switch event {
		case wim.SCAN_DENTRY_OK:
			if inode != nil && inode.IsDirectory() {
				dirs++
			} else {
				files++
			}
			if *capture_command_verbose {
				fmt.Println(filename)
			}

		case wim.SCAN_DENTRY_EXCLUDED:
			excluded++

		case wim.SCAN_DENTRY_UNSUPPORTED:
			unsupported++
			fmt.Fprintf(os.Stderr, "Skipping unsupported file %s\n", filename)
		}
		return nil
	}

	vol, err := wim.MountVolumeReadOnly(
		*capture_command_device_arg, *capture_command_image_offset)
	kingpin.FatalIfError(err, "Can not mount volume")
	defer vol.Put()

	img, err := wim.CaptureVolume(vol, params)
	kingpin.FatalIfError(err, "Capture failed")

	writer := &fileResourceWriter{filename: *capture_command_output}
	err = wim.WriteMetadataResource(img, writer)
	kingpin.FatalIfError(err, "Can not write metadata resource")

	var total_bytes int64
	for _, blob := range img.UnhashedBlobs {
		total_bytes += blob.Size
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"", "Count"})
	table.Append([]string{"Files", fmt.Sprintf("%d", files)})
	table.Append([]string{"Directories", fmt.Sprintf("%d", dirs)})
	table.Append([]string{"Excluded", fmt.Sprintf("%d", excluded)})
	table.Append([]string{"Unsupported", fmt.Sprintf("%d", unsupported)})
	table.Append([]string{"Inodes", fmt.Sprintf("%d", len(img.Inodes))})
	table.Append([]string{"Security descriptors",
		fmt.Sprintf("%d", img.SecurityData.NumEntries())})
	table.Append([]string{"Unhashed blobs",
		fmt.Sprintf("%d", len(img.UnhashedBlobs))})
	table.Append([]string{"Blob bytes", fmt.Sprintf("%d", total_bytes)})
	table.Append([]string{"Metadata SHA-1",
		hex.EncodeToString(img.MetadataHash[:])})
	table.SetCaption(true, fmt.Sprintf(
		"Captured %v", *capture_command_device_arg))
	table.Render()

	// Release the volume references held by the blob descriptors -
	// this tool does not read the file data back.
	for _, blob := range img.UnhashedBlobs {
		blob.Close()
	}
}

func init() {
	command_handlers = append(command_handlers, func(command string) bool {
		switch command {
		case capture_command.FullCommand():
			doCapture()
		default:
			return false
		}
		return true
	})
}
