package main

import (
	"flag"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/amrbekhit/squidboot"
	log "github.com/sirupsen/logrus"
)

var commands = map[string]func(squidboot.Bootloader, []string){
	"ping":          processPing,
	"params":        processGetParameters,
	"status":        processGetStatus,
	"start":         processStartBootload,
	"chunk":         processWriteChunk,
	"complete":      processCompleteBootload,
	"abort":         processAbortBootload,
	"readrange":     processReadRange,
	"getsettings":   processGetSettings,
	"writesettings": processWriteSettings,
	"isbootable":    processIsBootable,
	"boot":          processBoot,
}

const appVersion = "0.1.0"

// reboot is shared with the complete command.
var reboot *bool

func main() {
	version := flag.Bool("version", false, "Prints the program version.")
	port := flag.String("port", "", "Serial port name.")
	baud := flag.Int("baud", 115200, "Baud rate.")
	verbose := flag.Bool("v", false, "Enable verbose logging.")
	retries := flag.Int("retries", 3, "Number of times a request is resent when no response arrives.")
	timeout := flag.Duration("timeout", squidboot.DefaultTimeout, "Time to wait for each response.")
	before := flag.String("before", "", "Command to run before programming.")
	after := flag.String("after", "", "Command to run after programming has been completed successfully.")
	addr := flag.Uint("addr", 0, "Load address of a binary image. Defaults to the start of the app range.")
	verify := flag.Bool("verify", true, "Read back and compare the image after programming.")
	appInfo := flag.Bool("appinfo", true, "Write the app_len and app_crc settings after programming.")
	reboot = flag.Bool("reboot", false, "Boot the application after programming, or reboot after the complete command.")

	cmdList := []string{}
	for key := range commands {
		cmdList = append(cmdList, key)
	}
	sort.Strings(cmdList)
	command := flag.String("cmd", "", fmt.Sprintf("Command to run, one of: %+v\n"+
		"Read commands have the following usage: cmdname addr length, e.g. readrange 0x4000 32\n"+
		"Write commands have the following usage: cmdname addr datafile, e.g. chunk 0x4000 datafile\n"+
		"writesettings takes a yaml file of name: value pairs. Example:\n\n%s",
		cmdList, settingsExample))

	flag.Parse()

	if *version {
		fmt.Println(appVersion)
		return
	}

	if *verbose {
		log.SetLevel(log.DebugLevel)
	}

	squidboot.SetLogger(log.StandardLogger())

	if *port == "" {
		log.Fatal("must specify port")
	}

	bootloader, err := squidboot.NewSerialBootloader(*port, *baud, squidboot.Options{
		Retries: *retries,
		Timeout: *timeout,
	})
	if err != nil {
		log.Fatalf("failed to initialise bootloader: %v", err)
	}

	switch {
	case *command != "":
		// Run a single command
		f, ok := commands[*command]
		if !ok {
			log.Fatalf("invalid command %v", *command)
		}
		if err = bootloader.Connect(); err != nil {
			log.Fatalf("failed to open bootloader: %v", err)
		}
		defer bootloader.Disconnect()
		f(bootloader, flag.Args())

	default:
		// Try and program an image file
		if len(flag.Args()) != 1 {
			log.Fatalf("must specify hex or binary file to program")
		}
		fileName := flag.Args()[0]

		// Run the before command
		if *before != "" {
			log.Infof("running before command...")
			if err := exec.Command(*before).Run(); err != nil {
				log.Fatalf("failed to run before command: %v", err)
			}
		}

		prog := squidboot.NewProgrammer(bootloader)
		log.Infof("connecting to device...")
		if err := prog.Connect(); err != nil {
			log.Fatal(err)
		}
		defer prog.Disconnect()
		log.Infof("connected, app range %v", prog.GetParameters().ValidAppRange)

		file, err := os.Open(fileName)
		if err != nil {
			log.Fatal(err)
		}
		defer file.Close()

		if strings.EqualFold(filepath.Ext(fileName), ".hex") {
			err = prog.LoadHex(file)
		} else {
			loadAddr := uint32(*addr)
			if loadAddr == 0 {
				loadAddr = prog.GetParameters().ValidAppRange.Start
			}
			err = prog.LoadBinary(file, loadAddr)
		}
		if err != nil {
			log.Fatal(err)
		}
		img, err := prog.Image()
		if err != nil {
			log.Fatal(err)
		}
		log.Infof("image loaded: %d bytes at %X, crc %08X", len(img.Data), img.Start, img.CRC32())

		log.Infof("programming...")
		start := time.Now()
		if err := prog.Program(); err != nil {
			log.Fatal(err)
		}
		log.Infof("programmed in %v", time.Since(start).Round(time.Millisecond))

		if *verify {
			log.Infof("verifying...")
			if err := prog.Verify(); err != nil {
				log.Fatal(err)
			}
		}

		if *appInfo {
			log.Infof("writing app info...")
			if err := prog.WriteAppInfo(); err != nil {
				log.Fatal(err)
			}
		}

		if *reboot {
			log.Infof("booting...")
			status, err := prog.Boot(false)
			if err != nil {
				log.Fatal(err)
			}
			log.Infof("boot status: %v", status.Verdict)
		}
		log.Infof("complete")

		// Run the after command
		if *after != "" {
			log.Infof("running after command...")
			if err := exec.Command(*after).Run(); err != nil {
				log.Fatalf("failed to run after command: %v", err)
			}
		}
	}
}
