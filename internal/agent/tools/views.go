package tools

import (
	"unicode/utf8"

	"kairos/internal/domain"
)

// Views are the read-only projections placed in a context pack. They carry
// plain values only.

type ProjectView struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Status      string         `json:"status"`
	Role        string         `json:"role,omitempty"`
	TaskCounts  map[string]int `json:"taskCounts,omitempty"`
}

type TaskView struct {
	ID          string `json:"id"`
	ProjectID   string `json:"projectId,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	Priority    string `json:"priority"`
	DueDate     string `json:"dueDate,omitempty"`
	UpdatedAt   string `json:"updatedAt"`
}

type NoteView struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId,omitempty"`
	Title     string `json:"title"`
	Body      string `json:"body"`
	UpdatedAt string `json:"updatedAt"`
}

type EventView struct {
	ID        string `json:"id"`
	ProjectID string `json:"projectId,omitempty"`
	Title     string `json:"title"`
	StartsAt  string `json:"startsAt"`
	EndsAt    string `json:"endsAt"`
	Location  string `json:"location,omitempty"`
}

type NotificationView struct {
	ID        string `json:"id"`
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Read      bool   `json:"read"`
	CreatedAt string `json:"createdAt"`
}

// maxBody bounds note bodies in views.
const maxBody = 400

func projectView(p domain.Project, role string, counts map[string]int) ProjectView {
	return ProjectView{ID: p.ID, Name: p.Name, Description: p.Description, Status: p.Status, Role: role, TaskCounts: counts}
}

func taskView(t domain.Task) TaskView {
	return TaskView{
		ID:          t.ID,
		ProjectID:   str(t.ProjectID),
		Title:       t.Title,
		Description: truncate(t.Description, maxBody),
		Status:      t.Status,
		Priority:    t.Priority,
		DueDate:     str(t.DueDate),
		UpdatedAt:   t.UpdatedAt,
	}
}

func noteView(n domain.Note) NoteView {
	return NoteView{ID: n.ID, ProjectID: str(n.ProjectID), Title: n.Title, Body: truncate(n.Body, maxBody), UpdatedAt: n.UpdatedAt}
}

func eventView(e domain.CalendarEvent) EventView {
	return EventView{ID: e.ID, ProjectID: str(e.ProjectID), Title: e.Title, StartsAt: e.StartsAt, EndsAt: e.EndsAt, Location: e.Location}
}

func notificationView(n domain.Notification) NotificationView {
	return NotificationView{ID: n.ID, Kind: n.Kind, Message: n.Message, Read: n.ReadAt != nil, CreatedAt: n.CreatedAt}
}

func str(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "…"
}
