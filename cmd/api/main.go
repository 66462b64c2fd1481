package main

import (
	"context"
	"log"
	"os"

	"policyflow/db"
	"policyflow/invoicing"
	"policyflow/metrics"
	"policyflow/notification"
	"policyflow/request"
	"policyflow/userdir"
)

func main() {
	ctx := context.Background()

	connString := os.Getenv("DATABASE_URL")
	pool, err := db.NewPool(ctx, connString)
	if err != nil {
		log.Fatalf("bootstrap database pool: %v", err)
	}
	defer pool.Close()

	directory := userdir.NewService(userdir.NewRepository(pool), os.Getenv("JWT_SECRET"))
	payments := request.NewPaymentOrchestrator(invoicing.NewRepository())
	lifecycle := request.NewLifecycle(pool, nil, payments, notification.NewOutboxSender(), directory).
		WithMetrics(metrics.New())

	log.Printf("request lifecycle ready: %+v", lifecycle != nil)
}
