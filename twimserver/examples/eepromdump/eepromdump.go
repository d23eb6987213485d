package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/BertoldVdb/twim/eeprom"
	"github.com/BertoldVdb/twim/twimserver/discovery"
	"github.com/BertoldVdb/twim/twimserver/twimclient"
)

func main() {
	destination := flag.String("destination", "", "Skip discovery and use this bus URL")
	serverName := flag.String("name", "", "Only use the server announced with this name")
	busIndex := flag.Int("bus", 0, "Index of the bus on the server")
	addr := flag.Uint("addr", 0x50, "EEPROM address")
	size := flag.Int("size", 256, "EEPROM size in bytes")
	pageSize := flag.Int("page", 8, "EEPROM page size in bytes")
	fill := flag.String("fill", "", "Write this hex pattern over the whole device first")
	verbose := flag.Bool("verbose", false, "Log every transfer")

	flag.Parse()

	url := *destination
	if url == "" {
		log.Println("Searching for server")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		result, err := discovery.Find(ctx, *serverName)
		cancel()
		if err != nil {
			log.Fatalln("Failed to discover:", err)
		}
		log.Printf("Found server %s at %s with buses %v", result.Name, result.Addr, result.Buses)

		url = result.URL(*busIndex)
	}

	client, err := twimclient.New(url)
	if err != nil {
		log.Fatalln("Failed to connect:", err)
	}
	defer client.Close()

	var logOut eeprom.LogFunc
	if *verbose {
		logOut = log.Printf
	}

	dev, err := eeprom.New(eeprom.FromI2C(client), uint8(*addr), eeprom.Config{
		Size:     *size,
		PageSize: *pageSize,
		IsNack:   func(err error) bool { return errors.Is(err, twimclient.ErrNack) },
		LogFunc:  logOut,
	})
	if err != nil {
		log.Fatalln(err)
	}

	if *fill != "" {
		pattern, err := hex.DecodeString(*fill)
		if err != nil || len(pattern) == 0 {
			log.Fatalln("Invalid fill pattern:", *fill)
		}

		data := make([]byte, dev.Size())
		for i := range data {
			data[i] = pattern[i%len(pattern)]
		}

		if _, err := dev.WriteAt(data, 0); err != nil {
			log.Fatalln("Write failed:", err)
		}
		log.Printf("Wrote %d bytes", len(data))
	}

	data := make([]byte, dev.Size())
	if _, err := dev.ReadAt(data, 0); err != nil && err != io.EOF {
		log.Fatalln("Read failed:", err)
	}

	fmt.Fprint(os.Stdout, hex.Dump(data))
}
