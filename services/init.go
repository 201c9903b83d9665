package services

import (
	"github.com/customeros/mailsync/interfaces"
	"github.com/customeros/mailsync/internal/logger"
	"github.com/customeros/mailsync/internal/repository"
	"github.com/customeros/mailsync/services/daemon"
	"github.com/customeros/mailsync/services/events"
	"github.com/customeros/mailsync/services/imap"
	"github.com/customeros/mailsync/services/processor"
)

type Services struct {
	EventPublisher interfaces.EventPublisher
	Dialer         interfaces.IMAPDialer
	Processor      interfaces.MessageProcessor
	Daemon         *daemon.Daemon
}

func InitServices(rabbitmqURL string, daemonCfg *daemon.Config, log logger.Logger, repos *repository.Repositories) (*Services, error) {
	publisher, err := events.NewRabbitMQPublisher(rabbitmqURL, log, nil)
	if err != nil {
		return nil, err
	}

	dialer := imap.NewDialer(log)
	proc := processor.NewEmailProcessor(publisher, log)

	services := Services{
		EventPublisher: publisher,
		Dialer:         dialer,
		Processor:      proc,
		Daemon:         daemon.NewDaemon(daemonCfg, log, repos, dialer, proc),
	}

	return &services, nil
}
