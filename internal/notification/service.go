package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	accountrepo "mailpilot-backend/internal/account/repository"
	emaildomain "mailpilot-backend/internal/email/domain"
	"mailpilot-backend/internal/email/usecase"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// Gmail expires a watch after 7 days; re-registering twice a day keeps a
// wide margin and also picks up accounts added since the last pass.
const watchRenewInterval = 12 * time.Hour

// MailboxWatcher registers a mailbox push watch that publishes to a Pub/Sub
// topic. The Gmail transport implements it.
type MailboxWatcher interface {
	Watch(ctx context.Context, creds emaildomain.Credentials, topicName string) error
}

// GmailNotification is the payload Gmail publishes to the watch topic.
type GmailNotification struct {
	EmailAddress string `json:"emailAddress"`
	HistoryID    uint64 `json:"historyId"`
}

// Service receives Gmail push notifications over Pub/Sub and converts them
// into sync triggers. Notifications are hints: a dropped one only delays the
// next periodic cycle, so processing is strictly best-effort.
type Service struct {
	pubsubClient *pubsub.Client
	accountRepo  accountrepo.AccountRepository
	orchestrator *usecase.SyncOrchestrator
	fetcher      *usecase.ContentFetcher
	watcher      MailboxWatcher
	projectID    string
	topicName    string
	subName      string
	watchTopic   string

	// Deduplication: Gmail redelivers aggressively, track last historyId
	// per address to avoid redundant sync triggers.
	mu            sync.Mutex
	lastHistoryID map[string]uint64
}

func NewService(
	projectID, topicName, credentialsFile string,
	accountRepo accountrepo.AccountRepository,
	orchestrator *usecase.SyncOrchestrator,
	fetcher *usecase.ContentFetcher,
	watcher MailboxWatcher,
) (*Service, error) {
	ctx := context.Background()

	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create pubsub client: %v", err)
	}

	return &Service{
		pubsubClient:  client,
		accountRepo:   accountRepo,
		orchestrator:  orchestrator,
		fetcher:       fetcher,
		watcher:       watcher,
		projectID:     projectID,
		topicName:     topicName,
		subName:       topicName + "-sub", // Convention: topic-sub
		watchTopic:    fmt.Sprintf("projects/%s/topics/%s", projectID, topicName),
		lastHistoryID: make(map[string]uint64),
	}, nil
}

func (s *Service) Start(ctx context.Context) {
	log.Printf("[PubSub] Starting notification service with topic: %s, subscription: %s", s.topicName, s.subName)

	// Gmail only publishes to the topic for mailboxes with an active watch,
	// so registration is part of starting the listener.
	go s.maintainWatches(ctx)

	sub := s.pubsubClient.Subscription(s.subName)
	exists, err := sub.Exists(ctx)
	if err != nil {
		log.Printf("[PubSub] Error checking subscription existence: %v", err)
		return
	}

	if !exists {
		topic := s.pubsubClient.Topic(s.topicName)
		topicExists, err := topic.Exists(ctx)
		if err != nil {
			log.Printf("[PubSub] Error checking topic existence: %v", err)
			return
		}
		if !topicExists {
			log.Printf("[PubSub] Topic does not exist, cannot create subscription")
			return
		}

		sub, err = s.pubsubClient.CreateSubscription(ctx, s.subName, pubsub.SubscriptionConfig{
			Topic:       topic,
			AckDeadline: 10 * time.Second,
		})
		if err != nil {
			log.Printf("[PubSub] Failed to create subscription: %v", err)
			return
		}
		log.Printf("[PubSub] Created subscription: %s", s.subName)
	}

	log.Printf("[PubSub] Listening for messages on subscription: %s", s.subName)
	err = sub.Receive(ctx, func(ctx context.Context, msg *pubsub.Message) {
		s.handleMessage(msg)
		msg.Ack()
	})
	if err != nil {
		log.Printf("[PubSub] Error receiving messages: %v", err)
	}
}

// maintainWatches registers Gmail watches at startup and re-registers them
// periodically so they never lapse.
func (s *Service) maintainWatches(ctx context.Context) {
	s.registerWatches(ctx)

	ticker := time.NewTicker(watchRenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.registerWatches(ctx)
		}
	}
}

// registerWatches points every Gmail account's push watch at our topic.
// Failures are logged and retried on the next renewal pass; the periodic
// sync loop covers the gap in the meantime.
func (s *Service) registerWatches(ctx context.Context) {
	if s.watcher == nil {
		return
	}

	accounts, err := s.accountRepo.List()
	if err != nil {
		log.Printf("[PubSub] Failed to list accounts for watch registration: %v", err)
		return
	}

	for i := range accounts {
		account := &accounts[i]
		if account.TransportKind != string(emaildomain.TransportGmail) {
			continue
		}
		if err := s.watcher.Watch(ctx, s.fetcher.Credentials(account), s.watchTopic); err != nil {
			log.Printf("[PubSub] Failed to register watch for %s: %v", account.EmailAddress, err)
		}
	}
}

// Close releases the Pub/Sub client.
func (s *Service) Close() error {
	return s.pubsubClient.Close()
}

func (s *Service) handleMessage(msg *pubsub.Message) {
	var notification GmailNotification
	if err := json.Unmarshal(msg.Data, &notification); err != nil {
		log.Printf("[PubSub] Failed to unmarshal notification: %v", err)
		return
	}

	if s.seen(notification.EmailAddress, notification.HistoryID) {
		return
	}

	log.Printf("[PubSub] Notification for %s (historyId: %d)", notification.EmailAddress, notification.HistoryID)

	account, err := s.accountRepo.GetByEmail(notification.EmailAddress)
	if err != nil {
		log.Printf("[PubSub] No account for %s, ignoring notification", notification.EmailAddress)
		return
	}

	s.orchestrator.Trigger(account.ID)
}

// seen records the historyId and reports whether it was already processed.
// HistoryIds only move forward, so anything not newer is a redelivery.
func (s *Service) seen(address string, historyID uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if last, ok := s.lastHistoryID[address]; ok && historyID <= last {
		return true
	}
	s.lastHistoryID[address] = historyID
	return false
}
