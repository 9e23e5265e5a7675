package entity

import (
	"context"
	"log/slog"
)

// Schema change operations reported to EventSink.SchemaChanged.
const (
	SchemaOpCreateInfoBlock = "create_iblock"
	SchemaOpCreateProperty  = "create_property"
	SchemaOpUpdateProperty  = "update_property"
	SchemaOpCreateEnum      = "create_enum"
)

// NoopEventSink is a no-operation implementation of EventSink
type NoopEventSink struct{}

// NewNoopEventSink creates a new no-operation event sink
func NewNoopEventSink() EventSink {
	return &NoopEventSink{}
}

func (n *NoopEventSink) ElementCreated(ctx context.Context, iblock *InfoBlock, element *Element) error {
	return nil
}

func (n *NoopEventSink) ElementUpdated(ctx context.Context, iblock *InfoBlock, id int64, update ElementUpdate) error {
	return nil
}

func (n *NoopEventSink) SchemaChanged(ctx context.Context, iblock *InfoBlock, property *Property, op string) error {
	return nil
}

// LogEventSink writes every event to a structured logger.
type LogEventSink struct {
	logger *slog.Logger
}

// NewLogEventSink creates an event sink logging at Info level
func NewLogEventSink(logger *slog.Logger) EventSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEventSink{logger: logger}
}

func (l *LogEventSink) ElementCreated(ctx context.Context, iblock *InfoBlock, element *Element) error {
	l.logger.InfoContext(ctx, "element created", "iblock", iblock.Code, "element_id", element.ID, "name", element.Name)
	return nil
}

func (l *LogEventSink) ElementUpdated(ctx context.Context, iblock *InfoBlock, id int64, update ElementUpdate) error {
	fields := make([]string, 0, len(update.Properties)+2)
	if update.Name != nil {
		fields = append(fields, FieldName)
	}
	if update.Active != nil {
		fields = append(fields, FieldActive)
	}
	for code := range update.Properties {
		fields = append(fields, code)
	}
	l.logger.InfoContext(ctx, "element updated", "iblock", iblock.Code, "element_id", id, "fields", fields)
	return nil
}

func (l *LogEventSink) SchemaChanged(ctx context.Context, iblock *InfoBlock, property *Property, op string) error {
	if property == nil {
		l.logger.InfoContext(ctx, "schema changed", "op", op, "iblock", iblock.Code)
		return nil
	}
	l.logger.InfoContext(ctx, "schema changed", "op", op, "iblock", iblock.Code, "property", property.Code)
	return nil
}
