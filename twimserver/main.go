package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"time"

	"github.com/BertoldVdb/go-misc/httplog"
	"github.com/BertoldVdb/twim/nrf"
	"github.com/BertoldVdb/twim/twimopen"
	"github.com/BertoldVdb/twim/twimserver/api"
	"github.com/BertoldVdb/twim/twimserver/discovery"
	"periph.io/x/conn/v3/i2c/i2creg"
)

func main() {
	address := flag.String("addr", ":8067", "Address to listen on")
	variantName := flag.String("variant", nrf.Target.Name, "Chip variant to emulate")
	verbose := flag.Bool("verbose", false, "Enable verbose logging")
	mdnsIface := flag.String("mdns", "", "Announce the server over mDNS on this interface")
	name := flag.String("name", "", "Name announced over mDNS")

	flag.Parse()

	variant, err := nrf.VariantByName(*variantName)
	if err != nil {
		log.Fatalln(err)
	}

	closeChan := make(chan os.Signal, 1)
	signal.Notify(closeChan, os.Interrupt)

	logOut := log.Printf
	if !*verbose {
		logOut = nil
	}

	var mux http.ServeMux
	names := make([]string, 0, len(flag.Args()))

	for _, m := range flag.Args() {
		log.Printf("Opening bus '%s':", m)

		bus, err := twimopen.Open(m, variant, logOut)
		if err != nil {
			log.Printf(" -> Failed to open: %v", err)
			continue
		}
		defer bus.Close()

		i := len(names)
		busName := bus.String()
		// No bus number, host.Init already claims the low ones on Linux.
		if err := bus.Register(nil, -1); err != nil {
			log.Printf(" -> Failed to register: %v", err)
			continue
		}
		defer i2creg.Unregister(busName)

		// Handlers get the bus through the registry like any periph user.
		regBus, err := i2creg.Open(busName)
		if err != nil {
			log.Printf(" -> Failed to open registered bus: %v", err)
			continue
		}

		api, err := api.New(regBus)
		if err != nil {
			log.Println(" -> Failed to create API:", err)
			return
		}

		log.Printf(" -> Registering as '%s' and '%d'", busName, i)
		mux.Handle("/"+busName+"/", http.StripPrefix("/"+busName, api))
		mux.Handle("/"+strconv.Itoa(i)+"/", http.StripPrefix("/"+strconv.Itoa(i), api))

		names = append(names, busName)
	}

	if len(names) == 0 {
		log.Println("No buses available")
		return
	}

	namesJson, err := json.MarshalIndent(&names, "", "  ")
	if err != nil {
		log.Println(err)
		return
	}

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(namesJson)
	})

	logger := httplog.HTTPLog{
		LogOut:     log.Printf,
		ServerName: "TWIM",
	}

	server := &http.Server{
		Addr:    *address,
		Handler: logger.GetHandler(&mux),

		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       30 * time.Second,
		ReadHeaderTimeout: 30 * time.Second,
	}

	if *mdnsIface != "" {
		_, portStr, err := net.SplitHostPort(*address)
		if err != nil {
			log.Fatalln("mDNS: invalid listen address:", err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			log.Fatalln("mDNS: invalid port:", err)
		}

		announce := discovery.NewServer(*name, port, names)
		if err := announce.Start(*mdnsIface, 10*time.Second); err != nil {
			log.Fatalln("mDNS:", err)
		}
		defer announce.Stop()

		log.Printf("Announced as %s on %s", discovery.Service, announce.CurrentAddress())
	}

	go func() {
		log.Printf("Starting server on: http://%s", *address)
		log.Println("Server stopped:", server.ListenAndServe())

		select {
		case closeChan <- nil:
		default:
		}
	}()

	<-closeChan
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	server.Shutdown(ctx)
	cancel()
}
