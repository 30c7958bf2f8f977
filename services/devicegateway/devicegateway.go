// The devicegateway service terminates MQTT links from on-device agents
// and folds their channel patches into the channel store.
package main

import (
	"github.com/joeshaw/envdecode"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/getdoover/digital-matter/channel"
	"github.com/getdoover/digital-matter/core/csql"
	"github.com/getdoover/digital-matter/core/logger"
	"github.com/getdoover/digital-matter/device"
)

// Service holds the configuration for this service.
type Service struct {
	Postgres   string `env:"POSTGRES,required" description:"the connection string for the Postgres DB"`
	CACertFile string `env:"CA_CERT_FILE,required" description:"the X.509 certificate of the certificate authority"`
	CertFile   string `env:"CERT_FILE,required" description:"the broker's X.509 certificate"`
	KeyFile    string `env:"KEY_FILE,required" description:"the broker's X.509 private key"`
	Address    string `env:"MQTT_ADDRESS,default=:8883" description:"the address to listen on"`
}

func main() {
	logger.InitLogger(logrus.InfoLevel)

	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		panic(err)
	}

	db := csql.OpenWithSchema(service.Postgres, "digitalmatter")
	defer db.Close()

	broker := device.MustNewBroker(&device.BrokerBuilder{
		Store:      channel.MustNewPostgresStore(db),
		CACertFile: service.CACertFile,
		CertFile:   service.CertFile,
		KeyFile:    service.KeyFile,
		Address:    service.Address,
	})
	broker.Run()
}
