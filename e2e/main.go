package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/sync/errgroup"

	"github.com/olivere/jobloop"
	"github.com/olivere/jobloop/internal/simulate"
	"github.com/olivere/jobloop/internal/sources"
)

func main() {
	const (
		exampleDBURL = "root@tcp(127.0.0.1:3306)/jobloop_e2e?loc=UTC&parseTime=true"
	)
	var (
		srcType         = flag.String("source", "memory", fmt.Sprintf("source type %v", sources.Types))
		dburl           = flag.String("dburl", "", "connection string for the source, e.g. "+exampleDBURL)
		dbdebug         = flag.Bool("dbdebug", false, "Enabled debug output for DB source")
		n               = flag.Int("n", 5, "number of random job ids to dispatch")
		minID           = flag.Int("min-id", 1000, "smallest job id")
		maxID           = flag.Int("max-id", 10000, "job ids are in [min-id,max-id)")
		concurrency     = flag.Int("c", 4, "maximum number of workers")
		queueSize       = flag.Int("queue", 0, "number of submitted jobs that may wait for a worker")
		connectDelay    = flag.Duration("connect-delay", 1*time.Second, "simulated connection setup time")
		idle            = flag.Duration("idle", 5*time.Second, "wait time when the source is exhausted")
		idleMax         = flag.Duration("idle-max", 0, "if > idle, back off exponentially up to this wait time")
		paceCount       = flag.Int("pace-count", 4, "number of pacing steps after an admitted job")
		paceInterval    = flag.Duration("pace-interval", 500*time.Millisecond, "length of a pacing step")
		minRunTime      = flag.Duration("min-run-time", 1*time.Second, "minimum run time of a single job")
		maxRunTime      = flag.Duration("max-run-time", 3*time.Second, "maximum run time of a single job")
		failureRate     = flag.Float64("failure-rate", 0, "failure rate in the interval [0.0,1.0]")
		logInterval     = flag.Duration("log-interval", 1*time.Second, "log interval for stats")
		shutdownTimeout = flag.Duration("shutdown-timeout", -1*time.Second, "timeout to wait after shutdown (negative to wait forever)")
	)
	flag.Parse()

	if *n < 0 {
		log.Fatal("n must not be negative")
	}
	if *maxID <= *minID {
		log.Fatal("max-id must be greater than min-id")
	}
	if *srcType != "memory" && *srcType != "" && *dburl == "" {
		log.Fatal("specify a connection string with -dburl like e.g. " + exampleDBURL)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	rnd := rand.New(rand.NewSource(time.Now().UnixNano()))
	ids := make([]jobloop.JobID, *n)
	for i := range ids {
		ids[i] = jobloop.JobID(strconv.Itoa(*minID + rnd.Intn(*maxID-*minID)))
	}

	// Initialize the source
	h, err := sources.Open(sources.Config{Type: *srcType, URL: *dburl, Debug: *dbdebug, IDs: ids})
	if err != nil {
		log.Fatal(err)
	}
	defer h.Close()

	// Start the worker pool
	pool := jobloop.NewPool(
		jobloop.SetConcurrency(*concurrency),
		jobloop.SetQueueSize(*queueSize),
	)
	if err := pool.Start(); err != nil {
		log.Fatal(err)
	}

	var idleBackoff backoff.BackOff = jobloop.ConstantIdleBackoff(*idle)
	if *idleMax > *idle {
		idleBackoff = jobloop.ExponentialIdleBackoff(*idle, *idleMax)
	}
	l := jobloop.New(h.Source, pool,
		simulate.Processor(log.Default(), *minRunTime, *maxRunTime, *failureRate),
		jobloop.SetIdleBackoff(idleBackoff),
		jobloop.SetPacing(*paceCount, *paceInterval),
		jobloop.SetConnect(func(ctx context.Context) error {
			log.Printf("connecting to %s source", *srcType)
			t := time.NewTimer(*connectDelay)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
			}
			return h.Start(ctx)
		}),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	g, ctx := errgroup.WithContext(ctx)

	// Collect outcomes until the pool is closed
	g.Go(func() error {
		jobloop.NewCollector(pool.Results()).Run()
		return nil
	})

	// Run the loop, then drain the pool
	g.Go(func() error {
		err := l.Run(ctx)
		if cerr := pool.CloseWithTimeout(*shutdownTimeout); cerr != nil && err == nil {
			err = cerr
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	// Print stats
	g.Go(func() error {
		printStats(ctx, l, pool, *logInterval)
		return nil
	})

	// Wait for e.g. Ctrl+C
	g.Go(func() error {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGTERM, syscall.SIGINT)
		defer signal.Stop(c)
		select {
		case sig := <-c:
			log.Printf("signal %v", fmt.Sprint(sig))
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	} else {
		log.Print("exiting")
	}
}

func printStats(ctx context.Context, l *jobloop.Loop, pool *jobloop.Pool, d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			ls, ps := l.Stats(), pool.Stats()
			fmt.Printf("Polls=%6d Admitted=%6d Rejected=%6d Idle=%6d Working=%6d Succeeded=%6d Failed=%6d\n",
				ls.Polls,
				ls.Admitted,
				ls.Rejected,
				ls.Idle,
				ps.Working,
				ps.Succeeded,
				ps.Failed)
		}
	}
}
