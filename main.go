package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"
	"gorm.io/gorm"

	"github.com/customeros/mailsync/config"
	"github.com/customeros/mailsync/internal/database"
	"github.com/customeros/mailsync/server"
)

func main() {
	app := &cli.App{
		Name:  "mailsync",
		Usage: "IMAP synchronization daemon",
		Commands: []*cli.Command{
			{
				Name:  "migrate",
				Usage: "Run database migrations",
				Action: func(c *cli.Context) error {
					_, db := mustInit()
					if err := database.Migrate(db); err != nil {
						log.Fatalf("Database migration failed: %v", err)
					}
					log.Println("Database migration completed successfully")
					return nil
				},
			},
			{
				Name:  "daemon",
				Usage: "Start the sync daemon and API server",
				Action: func(c *cli.Context) error {
					cfg, db := mustInit()

					log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
					log.Println("Mailsync starting up...")

					srv, err := server.NewServer(cfg, db)
					if err != nil {
						log.Fatalf("Server setup failed: %v", err)
					}
					if err := srv.Run(); err != nil {
						log.Fatalf("Server run failed: %v", err)
					}
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func mustInit() (*config.Config, *gorm.DB) {
	cfg, err := config.InitConfig()
	if err != nil {
		log.Fatalf("Config initialization failed: %v", err)
	}

	db, err := database.NewConnection(&database.DatabaseConfig{
		DBName:          cfg.DatabaseConfig.DBName,
		Host:            cfg.DatabaseConfig.Host,
		Port:            cfg.DatabaseConfig.Port,
		User:            cfg.DatabaseConfig.User,
		Password:        cfg.DatabaseConfig.Password,
		MaxConn:         cfg.DatabaseConfig.MaxConn,
		MaxIdleConn:     cfg.DatabaseConfig.MaxIdleConn,
		ConnMaxLifetime: cfg.DatabaseConfig.ConnMaxLifetime,
		LogLevel:        cfg.DatabaseConfig.LogLevel,
		SSLMode:         cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		log.Fatalf("Database initialization failed: %v", err)
	}

	return cfg, db
}
