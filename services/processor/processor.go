// The processor service runs as a lambda function, invoked with one task
// per channel message on a device agent. It maintains the agent's UI state
// and service projection from forwarded telemetry events.
package main

import (
	"context"
	"fmt"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/joeshaw/envdecode"
	"github.com/sirupsen/logrus"

	"github.com/getdoover/digital-matter/channel"
	"github.com/getdoover/digital-matter/cloudapi"
	"github.com/getdoover/digital-matter/core/logger"
	"github.com/getdoover/digital-matter/dm"
	"github.com/getdoover/digital-matter/processor"
)

// Task message types.
const (
	MessageTypeDeploy   = "DEPLOY"
	MessageTypeUplink   = "UPLINK"
	MessageTypeDownlink = "DOWNLINK"
)

// Task is one processor invocation.
type Task struct {
	MessageType      string           `json:"message_type"`
	AgentID          string           `json:"agent_id"`
	DeploymentConfig channel.Document `json:"deployment_config"`
	Payload          channel.Document `json:"payload"`
	LoggerContext    []byte           `json:"logger_context,omitempty"`
}

// Service holds the configuration for this service.
type Service struct {
	APIEndpoint string `env:"API_ENDPOINT,required" description:"the url of the hosted channel API"`
	APIToken    string `env:"API_TOKEN,required" description:"the access token for the hosted channel API"`
}

var service Service

func handler(ctx context.Context, task Task) error {
	ctx = logger.ContextWithLoggerFromData(ctx, task.LoggerContext)
	ctx, rlog := logger.ContextWithLoggerAgentID(ctx, task.AgentID)

	if task.AgentID == "" {
		return fmt.Errorf("task without agent id")
	}

	api := cloudapi.NewWithURL(service.APIEndpoint).WithToken(service.APIToken)
	p := processor.MustNew(&processor.Builder{
		AgentID:  task.AgentID,
		Store:    api,
		Reporter: api,
		Config:   task.DeploymentConfig,
	})

	switch task.MessageType {
	case MessageTypeDeploy:
		rlog.Info("deploying ui")
		return p.Deploy(ctx)
	case MessageTypeUplink:
		return p.HandleUplink(ctx, dm.Event(task.Payload))
	case MessageTypeDownlink:
		// nothing to send back to these trackers yet
		rlog.Debug("ignoring downlink task")
		return nil
	default:
		return fmt.Errorf("unknown message type %q", task.MessageType)
	}
}

func main() {
	logger.InitLogger(logrus.InfoLevel)
	if err := envdecode.Decode(&service); err != nil {
		panic(err)
	}
	lambda.Start(handler)
}
