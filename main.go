package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/deemkeen/mammut/activitypub"
	"github.com/deemkeen/mammut/db"
	"github.com/deemkeen/mammut/domain"
	"github.com/deemkeen/mammut/queue"
	"github.com/deemkeen/mammut/util"
	"github.com/deemkeen/mammut/web"
	"github.com/google/uuid"
)

func main() {

	conf, err := util.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	fmt.Println("Configuration: ")
	fmt.Println(util.PrettyPrint(conf))

	dataDir := conf.Conf.DataDir
	if dataDir == "" {
		dir, err := util.GetConfigDir()
		if err != nil {
			log.Fatalln(err)
		}
		dataDir = dir
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		log.Fatalln(err)
	}

	log.Println("Opening database...")
	database, err := db.Open(filepath.Join(dataDir, "mammut.db"))
	if err != nil {
		log.Fatalln(err)
	}

	q, err := queue.New(filepath.Join(dataDir, "queue"))
	if err != nil {
		log.Fatalln(err)
	}

	ensureDefaultAccount(database, conf)

	resolver := &activitypub.Resolver{DB: database, Conf: conf}
	outbox := &activitypub.Outbox{DB: database, Conf: conf, Queue: q}
	pipeline := activitypub.NewPipeline(database, conf, q, resolver, outbox)
	verifier := &activitypub.Verifier{Resolver: resolver, Conf: conf}
	deliverer := &activitypub.Deliverer{
		DB:      database,
		Conf:    conf,
		Limiter: activitypub.NewDomainLimiter(conf.Conf.DomainPerMinute),
	}

	activitypub.StartInboxWorker(pipeline, q, conf)
	activitypub.StartDeliveryWorker(deliverer, q, conf)
	activitypub.StartBackfillWorker(pipeline, q, conf)

	maintenance := &activitypub.Maintenance{DB: database, Conf: conf}
	maintenance.Start()

	server := &web.Server{
		DB:       database,
		Conf:     conf,
		Queue:    q,
		Pipeline: pipeline,
		Verifier: verifier,
		Outbox:   outbox,
	}

	startServing(server)
}

// ensureDefaultAccount creates the instance's initial local actor with
// a fresh keypair on first boot.
func ensureDefaultAccount(database *db.DB, conf *util.AppConfig) {
	err, accounts := database.ReadAllAccounts()
	if err == nil && accounts != nil && len(*accounts) > 0 {
		return
	}

	keys := util.GeneratePemKeypair()
	acc := &domain.Account{
		Id:            uuid.New(),
		Username:      "admin",
		WebPublicKey:  keys.Public,
		WebPrivateKey: keys.Private,
		CreatedAt:     time.Now(),
	}
	if err := database.CreateAccount(acc); err != nil {
		log.Printf("Main: Failed to create default account: %v", err)
		return
	}
	log.Printf("Main: Created default account @%s", acc.Username)
}

func startServing(server *web.Server) {
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.Run(); err != nil {
			log.Fatalln(err)
		}
	}()

	<-done
	log.Println("Stopping federation server")
}
