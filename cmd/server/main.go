package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lanhub/internal/chat"
	"lanhub/internal/events"
	"lanhub/internal/file"
	"lanhub/internal/hub"
	"lanhub/internal/media"
	"lanhub/internal/otelutil"
	"lanhub/internal/screenshare"
	"lanhub/internal/state"
)

func main() {
	host := flag.String("host", "0.0.0.0", "address to listen on")
	port := flag.Int("port", 5000, "TCP control port (video UDP on port+1, audio UDP on port+2)")
	httpAddr := flag.String("http", ":8080", "admin API listen address")
	uploads := flag.String("uploads", "uploads", "directory for uploaded files")
	flag.Parse()

	if err := otelutil.Init(); err != nil {
		log.Printf("tracing disabled: %v", err)
	}
	defer otelutil.Flush()

	ip := net.ParseIP(*host)
	if ip == nil {
		log.Fatalf("invalid host %q", *host)
	}

	registry := state.NewRegistry()
	bus := events.NewBus()
	chatSvc := chat.NewService(registry, bus)
	files, err := file.NewService(*uploads, registry, bus)
	if err != nil {
		log.Fatalf("file service: %v", err)
	}
	screen := screenshare.NewArbitrator(registry, bus)

	ln, err := net.ListenTCP("tcp", &net.TCPAddr{IP: ip, Port: *port})
	if err != nil {
		log.Fatalf("listen tcp %s:%d: %v (port already in use?)", *host, *port, err)
	}

	videoConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: *port + 1})
	if err != nil {
		log.Fatalf("listen video udp: %v", err)
	}
	audioConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: *port + 2})
	if err != nil {
		log.Fatalf("listen audio udp: %v", err)
	}

	videoRelay := media.NewVideoRelay(registry, videoConn)
	audioMixer := media.NewAudioMixer(registry, audioConn)
	h := hub.New(registry, chatSvc, files, screen, audioMixer, bus)

	h.Serve(ln)
	videoRelay.Start()
	audioMixer.Start()

	log.Printf("server started on %s:%d", *host, *port)
	log.Printf("video UDP port: %d", *port+1)
	log.Printf("audio UDP port: %d", *port+2)

	server := &http.Server{
		Addr:    *httpAddr,
		Handler: newRouter(h, chatSvc, files, bus),
	}

	go func() {
		log.Printf("admin API on %s", *httpAddr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal(fmt.Errorf("admin API: %w", err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("admin API forced to shutdown: %v", err)
	}

	h.Stop()
	videoRelay.Stop()
	audioMixer.Stop()
	log.Println("server stopped")
}
