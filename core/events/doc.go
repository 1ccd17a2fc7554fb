// Package events defines the domain events consumed by the workflow
// coordinators and the notifications published on the event bus.
//
// Triggering events:
//   - timer events raised by the gate-closure scheduler
//   - inbound events decoded from counter-party messages
//   - follow-up events raised by coordinators after their commit
//
// Notifications (DocumentEvent, DeliveryEvent, SettlementEvent) describe
// what a committed coordinator run changed. They feed metrics only.
package events
