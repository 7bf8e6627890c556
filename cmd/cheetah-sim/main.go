// cheetah-sim serves a software stand-in for the Cheetah detector's HTTP
// API, for exercising uedaq without hardware.
package main

import (
	"flag"
	"log"
	"net/http"

	"github.com/uedlab/gued/cheetah/sim"
)

func main() {
	addr := flag.String("addr", ":8080", "address to listen on")
	timeScale := flag.Float64("timescale", 1, "exposure time multiplier, 0 completes instantly")
	flag.Parse()

	s := sim.New()
	s.TimeScale = *timeScale
	log.Println("now serving a simulated detector at", *addr)
	log.Fatal(http.ListenAndServe(*addr, s.Router()))
}
