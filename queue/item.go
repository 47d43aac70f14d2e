package queue

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/stickerlandia/printq/domain"
	"github.com/stickerlandia/printq/store"
)

// TerminalRetention is how long completed and failed jobs are kept.
const TerminalRetention = 48 * time.Hour

const (
	itemType = "PrintJob"

	attrItemType      = "ItemType"
	attrPrintJobID    = "PrintJobId"
	attrPrinterID     = "PrinterId"
	attrUserID        = "UserId"
	attrStickerID     = "StickerId"
	attrStickerURL    = "StickerUrl"
	attrStatus        = "Status"
	attrCreatedAt     = "CreatedAt"
	attrProcessedAt   = "ProcessedAt"
	attrCompletedAt   = "CompletedAt"
	attrFailureReason = "FailureReason"
	attrTraceParent   = "TraceParent"
	attrHeaders       = "Headers"
)

func printerPartition(printerID string) string {
	return "PRINTER#" + printerID
}

func statusPartition(printerID string, status domain.PrintJobStatus) string {
	return fmt.Sprintf("PRINTER#%s#STATUS#%s", printerID, status)
}

func jobKey(printerID, jobID string) store.Key {
	return store.Key{PK: printerPartition(printerID), SK: "JOB#" + jobID}
}

func toItem(j *domain.PrintJob) (store.Item, error) {
	key := jobKey(j.PrinterID, j.ID)
	item := store.Item{
		store.AttrPK:     key.PK,
		store.AttrSK:     key.SK,
		store.AttrGSI1PK: statusPartition(j.PrinterID, j.Status),
		store.AttrGSI1SK: store.FormatTime(j.CreatedAt),
		attrItemType:     itemType,
		attrPrintJobID:   j.ID,
		attrPrinterID:    j.PrinterID,
		attrUserID:       j.UserID,
		attrStickerID:    j.StickerID,
		attrStickerURL:   j.StickerURL,
		attrStatus:       string(j.Status),
		attrCreatedAt:    store.FormatTime(j.CreatedAt),
	}
	if j.ProcessedAt != nil {
		item[attrProcessedAt] = store.FormatTime(*j.ProcessedAt)
	}
	if j.CompletedAt != nil {
		item[attrCompletedAt] = store.FormatTime(*j.CompletedAt)
		if j.Status.Terminal() {
			item[store.AttrTTL] = j.CompletedAt.Add(TerminalRetention).Unix()
		}
	}
	if j.FailureReason != "" {
		item[attrFailureReason] = j.FailureReason
	}
	if j.TraceParent != "" {
		item[attrTraceParent] = j.TraceParent
	}
	if len(j.Headers) > 0 {
		b, err := json.Marshal(j.Headers)
		if err != nil {
			return nil, fmt.Errorf("encoding headers: %w", err)
		}
		item[attrHeaders] = string(b)
	}
	return item, nil
}

func fromItem(item store.Item) (*domain.PrintJob, error) {
	created, _, err := item.Time(attrCreatedAt)
	if err != nil {
		return nil, err
	}
	j := domain.PrintJob{
		ID:            item.String(attrPrintJobID),
		PrinterID:     item.String(attrPrinterID),
		UserID:        item.String(attrUserID),
		StickerID:     item.String(attrStickerID),
		StickerURL:    item.String(attrStickerURL),
		Status:        domain.PrintJobStatus(item.String(attrStatus)),
		CreatedAt:     created,
		FailureReason: item.String(attrFailureReason),
		TraceParent:   item.String(attrTraceParent),
	}
	if j.ProcessedAt, err = optionalTime(item, attrProcessedAt); err != nil {
		return nil, err
	}
	if j.CompletedAt, err = optionalTime(item, attrCompletedAt); err != nil {
		return nil, err
	}
	if h := item.String(attrHeaders); h != "" {
		if err := json.Unmarshal([]byte(h), &j.Headers); err != nil {
			return nil, fmt.Errorf("decoding headers of job %s: %w", j.ID, err)
		}
	}
	return domain.PrintJobFrom(j), nil
}

func optionalTime(item store.Item, attr string) (*time.Time, error) {
	t, ok, err := item.Time(attr)
	if err != nil || !ok {
		return nil, err
	}
	return &t, nil
}

func sortByCreation(jobs []*domain.PrintJob) {
	sort.SliceStable(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})
}
