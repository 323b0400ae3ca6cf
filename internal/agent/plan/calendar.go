package plan

import "time"

type EventCreate struct {
	ClientRequestID string `json:"clientRequestId"`
	Title           string `json:"title"`
	StartsAt        string `json:"startsAt"`
	EndsAt          string `json:"endsAt"`
	Location        string `json:"location,omitempty"`
	ProjectID       string `json:"projectId,omitempty"`
}

func (c EventCreate) Validate() error {
	var v validator
	v.requireText(c.ClientRequestID, "clientRequestId")
	c.validate(&v, "")
	return v.err()
}

func (c EventCreate) validate(v *validator, path string) {
	v.requireText(c.Title, join(path, "title"))
	start, okStart := parseInstant(v, c.StartsAt, join(path, "startsAt"))
	end, okEnd := parseInstant(v, c.EndsAt, join(path, "endsAt"))
	if okStart && okEnd {
		v.check(end.After(start), join(path, "endsAt"), "must be after startsAt")
	}
}

type EventUpdate struct {
	EventID  string  `json:"eventId"`
	Title    *string `json:"title,omitempty"`
	StartsAt *string `json:"startsAt,omitempty"`
	EndsAt   *string `json:"endsAt,omitempty"`
	Location *string `json:"location,omitempty"`
	Reason   string  `json:"reason,omitempty"`
}

func (u EventUpdate) Validate() error {
	var v validator
	u.validate(&v, "")
	return v.err()
}

func (u EventUpdate) validate(v *validator, path string) {
	v.requireText(u.EventID, join(path, "eventId"))
	v.check(u.Title != nil || u.StartsAt != nil || u.EndsAt != nil || u.Location != nil,
		path, "update must change at least one field")
	v.optionalText(u.Title, join(path, "title"))
	var start, end time.Time
	var okStart, okEnd bool
	if u.StartsAt != nil {
		start, okStart = parseInstant(v, *u.StartsAt, join(path, "startsAt"))
	}
	if u.EndsAt != nil {
		end, okEnd = parseInstant(v, *u.EndsAt, join(path, "endsAt"))
	}
	if okStart && okEnd {
		v.check(end.After(start), join(path, "endsAt"), "must be after startsAt")
	}
}

type EventDelete struct {
	EventID   string `json:"eventId"`
	Reason    string `json:"reason"`
	Dangerous bool   `json:"dangerous"`
}

func (d EventDelete) Validate() error {
	var v validator
	d.validate(&v, "")
	return v.err()
}

func (d EventDelete) validate(v *validator, path string) {
	v.requireText(d.EventID, join(path, "eventId"))
	v.dangerous(d.Dangerous, d.Reason, path)
}

// CalendarPlan is the output of the calendar agent.
type CalendarPlan struct {
	Creates []EventCreate `json:"creates"`
	Updates []EventUpdate `json:"updates"`
	Deletes []EventDelete `json:"deletes"`
}

func DecodeCalendarPlan(data []byte) (Plan, error) {
	return decode[*CalendarPlan](data)
}

func (p *CalendarPlan) normalize() {
	p.Creates = orEmpty(p.Creates)
	p.Updates = orEmpty(p.Updates)
	p.Deletes = orEmpty(p.Deletes)
}

func (p *CalendarPlan) Validate() error {
	var v validator
	v.listLen(len(p.Creates), "creates")
	v.listLen(len(p.Updates), "updates")
	v.listLen(len(p.Deletes), "deletes")
	ids := make([]string, len(p.Creates))
	for i, c := range p.Creates {
		ids[i] = c.ClientRequestID
		c.validate(&v, index("creates", i))
	}
	v.uniqueRequestIDs(ids, "creates")
	for i, u := range p.Updates {
		u.validate(&v, index("updates", i))
	}
	for i, d := range p.Deletes {
		d.validate(&v, index("deletes", i))
	}
	return v.err()
}

func (p *CalendarPlan) Summary() Summary {
	s := Summary{Items: []SummaryItem{}}
	for _, c := range p.Creates {
		s.add(SummaryItem{Action: ActionCreate, Entity: "event", Ref: c.ClientRequestID, Title: c.Title, Detail: c.StartsAt + " to " + c.EndsAt})
	}
	for _, u := range p.Updates {
		s.add(SummaryItem{Action: ActionUpdate, Entity: "event", Ref: u.EventID, Title: deref(u.Title), Detail: u.Reason})
	}
	for _, d := range p.Deletes {
		s.add(SummaryItem{Action: ActionDelete, Entity: "event", Ref: d.EventID, Detail: d.Reason})
	}
	return s
}

func (p *CalendarPlan) Steps() []Step {
	var steps []Step
	for _, c := range p.Creates {
		steps = append(steps, Step{Action: ActionCreate, Entity: "event", Tool: ToolCreateEvent, Input: c, Ref: c.ClientRequestID})
	}
	for _, u := range p.Updates {
		steps = append(steps, Step{Action: ActionUpdate, Entity: "event", Tool: ToolUpdateEvent, Input: u, Ref: u.EventID})
	}
	for _, d := range p.Deletes {
		steps = append(steps, Step{Action: ActionDelete, Entity: "event", Tool: ToolDeleteEvent, Input: d, Ref: d.EventID})
	}
	return steps
}

func parseInstant(v *validator, s, path string) (time.Time, bool) {
	t, err := time.Parse(time.RFC3339, s)
	v.check(err == nil, path, "must be an RFC 3339 timestamp")
	return t, err == nil
}

const CalendarPlanShape = `{
  "creates": [
    {"clientRequestId": "string, unique within this plan", "title": "string",
     "startsAt": "RFC 3339 timestamp", "endsAt": "RFC 3339 timestamp after startsAt",
     "location": "string (optional)", "projectId": "string (optional)"}
  ],
  "updates": [
    {"eventId": "string, an id from the context", "title": "string (optional)",
     "startsAt": "RFC 3339 (optional)", "endsAt": "RFC 3339 (optional)",
     "location": "string (optional)", "reason": "string (optional)"}
  ],
  "deletes": [
    {"eventId": "string, an id from the context", "reason": "string", "dangerous": true}
  ]
}`
