package main

import (
	"encoding/hex"
	"fmt"
	"io/ioutil"
	"strconv"

	"github.com/amrbekhit/squidboot"
	"github.com/amrbekhit/squidboot/settings"
	"github.com/amrbekhit/squidboot/wire"
	log "github.com/sirupsen/logrus"
)

func processPing(bootloader squidboot.Bootloader, args []string) {
	n := uint32(0x5175_1D00)
	if len(args) == 1 {
		v, err := strconv.ParseUint(args[0], 0, 32)
		if err != nil {
			log.Fatalf("invalid value: %v", err)
		}
		n = uint32(v)
	}
	resp, err := bootloader.Ping(n)
	if err != nil {
		log.Fatalf("failed to ping: %v", err)
	}
	if resp != n {
		log.Fatalf("ping %08X answered with %08X", n, resp)
	}
	log.Infof("pong %08X", resp)
}

func processGetParameters(bootloader squidboot.Bootloader, args []string) {
	p, err := bootloader.GetParameters()
	if err != nil {
		log.Fatalf("failed to read parameters: %v", err)
	}
	fmt.Printf("settings max:    %d\n", p.SettingsMax)
	fmt.Printf("chunk size:      %d\n", p.DataChunkSize)
	fmt.Printf("ram window:      %v\n", p.ValidRAMRead)
	fmt.Printf("flash window:    %v\n", p.ValidFlashRead)
	fmt.Printf("read max:        %d\n", p.ReadMax)
	fmt.Printf("app range:       %v\n", p.ValidAppRange)
	fmt.Printf("page / subpage:  %d / %d\n", p.PageSize, p.SubpageSize)
}

func processGetStatus(bootloader squidboot.Bootloader, args []string) {
	status, err := bootloader.GetStatus()
	if err != nil {
		log.Fatalf("failed to read status: %v", err)
	}
	switch s := status.(type) {
	case wire.StatusIdle:
		fmt.Println("idle")
	case wire.StatusStarted:
		fmt.Printf("started: %d bytes at %X, crc %08X\n", s.Length, s.StartAddr, s.CRC32)
	case wire.StatusLoading:
		fmt.Printf("loading: %X to %X, crc %08X of %08X\n", s.StartAddr, s.NextAddr, s.PartialCRC32, s.ExpectedCRC32)
	case wire.StatusAwaitingComplete:
		fmt.Println("awaiting complete")
	}
}

func getUint32(arg, name string) uint32 {
	v, err := strconv.ParseUint(arg, 0, 32)
	if err != nil {
		log.Fatalf("invalid %s: %v", name, err)
	}
	return uint32(v)
}

func getAddrAndLen(args []string) (uint32, uint32) {
	if len(args) != 2 {
		log.Fatalf("expected: addr len")
	}
	return getUint32(args[0], "address"), getUint32(args[1], "length")
}

func getAddrAndData(args []string) (uint32, []byte) {
	if len(args) != 2 {
		log.Fatalf("expected: addr datafile")
	}
	addr := getUint32(args[0], "address")
	data, err := ioutil.ReadFile(args[1])
	if err != nil {
		log.Fatalf("failed to read data file: %v", err)
	}
	return addr, data
}

func processStartBootload(bootloader squidboot.Bootloader, args []string) {
	if len(args) != 3 {
		log.Fatalf("expected: addr len crc")
	}
	addr, length := getAddrAndLen(args[:2])
	crc := getUint32(args[2], "crc")
	if err := bootloader.StartBootload(addr, length, crc); err != nil {
		log.Fatalf("failed to start bootload: %v", err)
	}
}

func processWriteChunk(bootloader squidboot.Bootloader, args []string) {
	addr, data := getAddrAndData(args)
	crc, err := bootloader.WriteChunk(addr, data)
	if err != nil {
		log.Fatalf("failed to write chunk: %v", err)
	}
	fmt.Printf("running crc: %08X\n", crc)
}

func processCompleteBootload(bootloader squidboot.Bootloader, args []string) {
	will, err := bootloader.CompleteBootload(*reboot)
	if err != nil {
		log.Fatalf("failed to complete bootload: %v", err)
	}
	log.Infof("bootload complete, rebooting: %v", will)
}

func processAbortBootload(bootloader squidboot.Bootloader, args []string) {
	if err := bootloader.AbortBootload(); err != nil {
		log.Fatalf("failed to abort bootload: %v", err)
	}
}

func processReadRange(bootloader squidboot.Bootloader, args []string) {
	addr, length := getAddrAndLen(args)
	data, err := bootloader.ReadRange(addr, length)
	if err != nil {
		log.Fatalf("failed to read range: %v", err)
	}
	fmt.Print(hex.Dump(data))
}

func processGetSettings(bootloader squidboot.Bootloader, args []string) {
	blob, err := bootloader.GetSettings()
	if err != nil {
		log.Fatalf("failed to read settings: %v", err)
	}
	fmt.Printf("%d bytes, crc %08X\n", len(blob.Data), blob.CRC32)
	items, err := settings.ParseItems(blob.Data)
	for _, it := range items {
		fmt.Println(it)
	}
	if err != nil {
		log.Warnf("%v", err)
		fmt.Print(hex.Dump(blob.Data))
	}
}

func processWriteSettings(bootloader squidboot.Bootloader, args []string) {
	if len(args) != 1 {
		log.Fatalf("expected: settingsfile")
	}
	f, err := ioutil.ReadFile(args[0])
	if err != nil {
		log.Fatalf("failed to open settings file: %v", err)
	}
	items, err := parseSettingsYAML(f)
	if err != nil {
		log.Fatalf("failed to parse settings file: %v", err)
	}
	data, err := settings.EncodeItems(items)
	if err != nil {
		log.Fatal(err)
	}
	if err := bootloader.WriteSettings(data); err != nil {
		log.Fatalf("failed to write settings: %v", err)
	}
	log.Infof("wrote %d settings", len(items))
}

func processIsBootable(bootloader squidboot.Bootloader, args []string) {
	status, err := bootloader.IsBootable()
	if err != nil {
		log.Fatalf("failed to check bootable: %v", err)
	}
	if status.OK() {
		fmt.Printf("bootable: %d bytes, crc %08X\n", status.Length, status.CRC32)
		return
	}
	fmt.Printf("not bootable: %v\n", status.Verdict)
}

func processBoot(bootloader squidboot.Bootloader, args []string) {
	cmd := wire.BootIfBootable
	if len(args) == 1 && args[0] == "force" {
		cmd = wire.ForceBoot
	}
	will, status, err := bootloader.Boot(cmd)
	if err != nil {
		log.Fatalf("failed to boot: %v", err)
	}
	if !will {
		log.Fatalf("device refused to boot: %v", status.Verdict)
	}
	log.Infof("booting (%v)", status.Verdict)
}
