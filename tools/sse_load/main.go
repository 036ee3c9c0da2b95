// Command sse_load opens many connections to the swap report stream and checks that every
// connection sees report ids in strictly increasing order.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

type stats struct {
	connected   atomic.Int64
	connectErrs atomic.Int64
	streamErrs  atomic.Int64
	reports     atomic.Int64
	heartbeats  atomic.Int64
	outOfOrder  atomic.Int64
}

func (s *stats) String() string {
	return fmt.Sprintf("connected=%d connect_errs=%d stream_errs=%d reports=%d heartbeats=%d out_of_order=%d",
		s.connected.Load(), s.connectErrs.Load(), s.streamErrs.Load(),
		s.reports.Load(), s.heartbeats.Load(), s.outOfOrder.Load())
}

func main() {
	var (
		targetURL    string
		connections  int
		testDuration time.Duration
		rampUp       time.Duration
		lastEventID  uint64
	)

	flag.StringVar(&targetURL, "url", "http://localhost:8080/reports/stream", "report stream URL")
	flag.IntVar(&connections, "conns", 1000, "number of concurrent connections to open")
	flag.DurationVar(&testDuration, "dur", 60*time.Second, "test duration (0 for until interrupted)")
	flag.DurationVar(&rampUp, "ramp", 0, "ramp-up duration (spread connection starts across this window)")
	flag.Uint64Var(&lastEventID, "from", 0, "resume after this report index")
	flag.Parse()

	if connections <= 0 {
		log.Fatalf("invalid conns: %d", connections)
	}

	if rampUp == 0 && connections > 100 {
		// 1 second per 500 connections
		rampUp = time.Duration(connections/500) * time.Second
		if rampUp < 1*time.Second {
			rampUp = 1 * time.Second
		}
		log.Printf("No ramp-up specified for high connection count. Using default ramp-up: %s", rampUp)
	}

	log.Printf("starting report stream load: url=%s conns=%d duration=%s ramp=%s from=%d",
		targetURL, connections, testDuration, rampUp, lastEventID)
	runtime.GOMAXPROCS(runtime.NumCPU())

	client := &http.Client{
		Transport: &http.Transport{
			MaxConnsPerHost:     connections + 100,
			MaxIdleConns:        connections + 100,
			MaxIdleConnsPerHost: connections + 100,
			DisableCompression:  true,
			DialContext: (&net.Dialer{
				Timeout:   5 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if testDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, testDuration)
		defer cancel()
	}

	st := &stats{}
	start := time.Now()

	var interval time.Duration
	if rampUp > 0 {
		interval = rampUp / time.Duration(connections)
	}

	var wg sync.WaitGroup
	for i := 0; i < connections && ctx.Err() == nil; i++ {
		if i > 0 && interval > 0 {
			select {
			case <-ctx.Done():
				continue
			case <-time.After(interval):
			}
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			follow(ctx, client, targetURL, lastEventID, st)
		}()
	}

	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				log.Printf("status: %s elapsed=%s", st, time.Since(start).Truncate(time.Second))
			}
		}
	}()

	wg.Wait()

	elapsed := time.Since(start)
	if elapsed == 0 {
		elapsed = time.Millisecond
	}
	fmt.Printf("done: %s elapsed=%s reports/s=%.2f\n",
		st, elapsed.Truncate(time.Millisecond), float64(st.reports.Load())/elapsed.Seconds())

	if st.outOfOrder.Load() > 0 {
		os.Exit(1)
	}
}

func follow(ctx context.Context, client *http.Client, url string, from uint64, st *stats) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		st.connectErrs.Add(1)
		return
	}
	req.Header.Set("Accept", "text/event-stream")
	if from > 0 {
		req.Header.Set("Last-Event-ID", strconv.FormatUint(from, 10))
	}

	resp, err := client.Do(req)
	if err != nil {
		st.connectErrs.Add(1)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		st.connectErrs.Add(1)
		return
	}

	st.connected.Add(1)
	if err := readStream(resp.Body, from, st); err != nil && ctx.Err() == nil {
		st.streamErrs.Add(1)
	}
}

// readStream consumes SSE frames until r ends. Report ids must grow by exactly one.
func readStream(r io.Reader, last uint64, st *stats) error {
	reader := bufio.NewReader(r)
	var (
		id    uint64
		hasID bool
		event string
	)

	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		line = strings.TrimRight(line, "\r\n")

		switch {
		case line == "":
			if event == "swap_report" {
				st.reports.Add(1)
				if !hasID || (last > 0 && id != last+1) || (last == 0 && id == 0) {
					st.outOfOrder.Add(1)
				}
				if hasID {
					last = id
				}
			}
			id, hasID, event = 0, false, ""
		case strings.HasPrefix(line, ":"):
			st.heartbeats.Add(1)
		case strings.HasPrefix(line, "id:"):
			n, err := strconv.ParseUint(strings.TrimSpace(strings.TrimPrefix(line, "id:")), 10, 64)
			if err != nil {
				return fmt.Errorf("bad event id %q: %w", line, err)
			}
			id, hasID = n, true
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		}
	}
}
