package squidboot

import (
	"log"
	"os"
)

// Example flashes firmware.hex over a serial link and starts it.
func Example() {
	bootloader, err := NewSerialBootloader("/dev/ttyUSB0", 115200, Options{Retries: 3})
	if err != nil {
		log.Fatalf("open serial bootloader: %v", err)
	}
	prog := NewProgrammer(bootloader)

	// Connect also reads the node's parameters, which fix the app range
	// and the chunk size used by Program.
	if err := prog.Connect(); err != nil {
		log.Fatal(err)
	}
	defer prog.Disconnect()
	params := prog.GetParameters()
	log.Printf("node app range %v, %d byte chunks", params.ValidAppRange, params.DataChunkSize)

	firmware, err := os.Open("firmware.hex")
	if err != nil {
		log.Fatal(err)
	}
	defer firmware.Close()
	if err := prog.LoadHex(firmware); err != nil {
		log.Fatal(err)
	}

	img, err := prog.Image()
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("flashing %d bytes at %X, crc %08X", len(img.Data), img.Start, img.CRC32())

	if err := prog.Program(); err != nil {
		log.Fatal(err)
	}
	if err := prog.Verify(); err != nil {
		log.Fatal(err)
	}

	// The node refuses to boot until app_len and app_crc match the image.
	if err := prog.WriteAppInfo(); err != nil {
		log.Fatal(err)
	}
	status, err := prog.Boot(false)
	if err != nil {
		log.Fatal(err)
	}
	log.Printf("node booting: %v", status.Verdict)
}
