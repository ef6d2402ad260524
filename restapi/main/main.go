// Package main is the document submission service entry point: it loads the
// configuration, wires the repository, object store and outbound clients for
// the selected mode, then runs the REST API and the worker scheduler together.
package main

import (
	"context"
	"flag"
	"fmt"
	log "log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/SharedCode/dms"
	"github.com/SharedCode/dms/aws_s3"
	"github.com/SharedCode/dms/callback"
	"github.com/SharedCode/dms/cassandra"
	"github.com/SharedCode/dms/inmemory"
	"github.com/SharedCode/dms/redis"
	"github.com/SharedCode/dms/restapi"
	"github.com/SharedCode/dms/scheduler"
	"github.com/SharedCode/dms/sdes"
	"github.com/SharedCode/dms/workers"
)

var configFile = flag.String("config", "dms.json", "path of the JSON configuration file")

func main() {
	dms.ConfigureLogging()
	flag.Parse()

	cfg, err := dms.LoadConfig(*configFile)
	if err == nil {
		err = cfg.Validate()
	}
	if err != nil {
		log.Error(fmt.Sprintf("configuration invalid, details: %v", err))
		os.Exit(1)
	}

	repository, objectStore, err := openStores(cfg)
	if err != nil {
		log.Error(fmt.Sprintf("can't open the submission stores, details: %v", err))
		os.Exit(1)
	}

	sched := scheduler.New(
		scheduler.Job{
			Name:         "sdes-worker",
			InitialDelay: cfg.Workers.InitialDelay,
			Interval:     cfg.Workers.SdesWorker.Interval,
			Run:          workers.NewSdesWorker(repository, sdes.NewClient(cfg.Sdes)).Run,
		},
		scheduler.Job{
			Name:         "processed-item-worker",
			InitialDelay: cfg.Workers.InitialDelay,
			Interval:     cfg.Workers.ProcessedItemWorker.Interval,
			Run:          workers.NewCallbackWorker(repository, callback.NewClient(cfg.CallbackTimeout)).Run,
		},
		scheduler.Job{
			Name:         "failed-item-worker",
			InitialDelay: cfg.Workers.InitialDelay,
			Interval:     cfg.Workers.FailedItemWorker.Interval,
			Run:          workers.NewFailureWorker(repository, cfg.Workers.FailedItemWorker.MaxFailures).Run,
		},
	)
	server := restapi.NewServer(cfg, repository, objectStore)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tr := dms.NewTaskRunner(ctx, 2)
	tr.Go(server.Run)
	tr.Go(func() error {
		return sched.Run(tr.GetContext())
	})
	log.Info(fmt.Sprintf("document submission service listening on %s", cfg.ListenAddress))
	if err := tr.Wait(); err != nil {
		log.Error(fmt.Sprintf("service stopped, details: %v", err))
		os.Exit(1)
	}
}

// openStores wires the repository and object store for the configured mode.
// Standalone keeps everything in-process; Clustered opens Cassandra, Redis
// and S3 connections.
func openStores(cfg dms.Config) (dms.Repository, dms.ObjectStore, error) {
	if cfg.Type == dms.Standalone {
		return inmemory.NewRepository(cfg.LockTTL), inmemory.NewObjectStore(cfg.Sdes.ObjectStoreLocationPrefix), nil
	}

	if _, err := cassandra.OpenConnection(cassandra.Config{
		ClusterHosts:      cfg.Cassandra.ClusterHosts,
		Keyspace:          cfg.Cassandra.Keyspace,
		ConnectionTimeout: cfg.Cassandra.ConnectionTimeout,
		ReplicationClause: cfg.Cassandra.ReplicationClause,
	}); err != nil {
		return nil, nil, err
	}
	if _, err := redis.OpenConnection(redis.Options{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}); err != nil {
		return nil, nil, err
	}

	repository := cassandra.NewRepository(redis.NewClient(), cfg.LockTTL)
	s3Client := aws_s3.Connect(aws_s3.Config{
		HostEndpointUrl: cfg.ObjectStore.HostEndpointUrl,
		Region:          cfg.ObjectStore.Region,
		Username:        cfg.ObjectStore.Username,
		Password:        cfg.ObjectStore.Password,
	})
	objectStore, err := aws_s3.NewObjectStore(s3Client, cfg.ObjectStore.Bucket, cfg.Sdes.ObjectStoreLocationPrefix)
	if err != nil {
		return nil, nil, err
	}
	return repository, objectStore, nil
}
