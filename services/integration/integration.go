// The integration service terminates Digital Matter OEM deliveries: a
// webhook and an optional SQS drain feed the decoder, decoded events are
// routed to device agents via the serial lookup table.
package main

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	"github.com/getdoover/digital-matter/channel"
	"github.com/getdoover/digital-matter/cloudapi"
	"github.com/getdoover/digital-matter/core/csql"
	"github.com/getdoover/digital-matter/core/logger"
	"github.com/getdoover/digital-matter/core/metrics"
	"github.com/getdoover/digital-matter/dm"
	"github.com/getdoover/digital-matter/integration"
)

// Service holds the configuration for this service.
//
// Either POSTGRES (local channel store) or API_ENDPOINT (hosted channel
// system) must be set.
type Service struct {
	Port          string `env:"PORT,default=8080" description:"the port to listen on"`
	Postgres      string `env:"POSTGRES,optional" description:"the connection string for the Postgres DB"`
	APIEndpoint   string `env:"API_ENDPOINT,optional" description:"the url of the hosted channel API"`
	APIToken      string `env:"API_TOKEN,optional" description:"the access token for the hosted channel API"`
	OwnerAgentID  string `env:"OWNER_AGENT_ID,required" description:"the agent the integration runs as"`
	WebhookSecret string `env:"WEBHOOK_SECRET,required" description:"the shared secret for webhook JWT tokens"`
	WebhookIssuer string `env:"WEBHOOK_ISSUER,optional" description:"the accepted issuer for webhook JWT tokens"`
	KafkaBrokers  string `env:"KAFKA_BROKERS,optional" description:"comma separated kafka brokers for the notification stream"`
	KafkaTopic    string `env:"KAFKA_TOPIC,default=dm-events" description:"the kafka topic for the notification stream"`
	SQSQueueURL   string `env:"SQS_QUEUE_URL,optional" description:"an SQS queue to drain OEM deliveries from"`
	SerialSyncMin int    `env:"SERIAL_SYNC_MINUTES,default=15" description:"how often to rebuild the serial lookup table"`

	Archive channel.S3Configuration
}

func main() {
	logger.InitLogger(logrus.InfoLevel)
	rlog := logger.Default()

	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	if service.APIEndpoint == "" {
		panic("please specify API_ENDPOINT")
	}
	api := cloudapi.NewWithURL(service.APIEndpoint).WithToken(service.APIToken)

	// the agent directory always lives in the hosted system; the channel
	// store can be kept locally in postgres instead
	var store channel.Store = api
	var directory channel.Directory = api
	if service.Postgres != "" {
		db := csql.OpenWithSchema(service.Postgres, "digitalmatter")
		defer db.Close()
		store = channel.MustNewPostgresStore(db)
	}

	var archiver *channel.S3Archiver
	if service.Archive.AWSBucketName != "" {
		a, err := channel.NewS3Archiver(service.Archive)
		if err != nil {
			panic(err)
		}
		archiver = a
		store = channel.ArchivingStore{Store: store, Archiver: archiver}
	}

	if service.KafkaBrokers != "" {
		notifier := channel.NewKafkaNotifier(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer notifier.Close()
		store = channel.NotifyingStore{Store: store, Notifier: notifier}
	}

	i := integration.MustNew(&integration.Builder{
		Store:        store,
		Directory:    directory,
		OwnerAgentID: service.OwnerAgentID,
	})

	router := mux.NewRouter()
	logger.AddRequestID(router)
	router.Handle("/metrics", metrics.Handler())
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	webhook := router.PathPrefix("/dm").Subrouter()
	webhook.Use(newWebhookAuthMiddleware(service.WebhookSecret, service.WebhookIssuer))
	webhook.HandleFunc("/uplink", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "cannot read body", http.StatusBadRequest)
			return
		}
		if err := i.HandleIngestion(r.Context(), body); err != nil {
			if errors.Is(err, dm.ErrMalformedPayload) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			logger.FromContext(r.Context()).WithError(err).Error("cannot handle uplink")
			http.Error(w, "cannot handle uplink", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)
	webhook.HandleFunc("/sync_serials", func(w http.ResponseWriter, r *http.Request) {
		if err := i.SyncSerials(r.Context()); err != nil {
			logger.FromContext(r.Context()).WithError(err).Error("cannot sync serials")
			http.Error(w, "cannot sync serials", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodPost)
	if archiver != nil {
		channel.AddArchiveRoute(webhook, archiver)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if service.SQSQueueURL != "" {
		awsConfig, err := config.LoadDefaultConfig(ctx)
		if err != nil {
			panic(err)
		}
		worker := integration.NewSQSWorker(sqs.NewFromConfig(awsConfig), service.SQSQueueURL, i)
		go func() {
			if err := worker.Run(ctx); err != nil && err != context.Canceled {
				rlog.WithError(err).Error("queue worker stopped")
			}
		}()
	}

	go func() {
		ticker := time.NewTicker(time.Duration(service.SerialSyncMin) * time.Minute)
		defer ticker.Stop()
		for {
			if err := i.SyncSerials(ctx); err != nil {
				rlog.WithError(err).Warn("cannot sync serials")
			}
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
		}
	}()

	server := &http.Server{
		Addr: ":" + service.Port,
		Handler: handlers.CORS(
			handlers.AllowedHeaders([]string{"Content-Type", "Authorization"}),
			handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost}),
		)(handlers.CombinedLoggingHandler(os.Stdout, router)),
	}
	go func() {
		rlog.Infoln("listening on port", service.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rlog.WithError(err).Fatal("server stopped")
		}
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	<-signalCh
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	rlog.Infoln("stopped")
}
