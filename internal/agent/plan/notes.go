package plan

type NoteCreate struct {
	ClientRequestID string `json:"clientRequestId"`
	Title           string `json:"title"`
	Body            string `json:"body"`
	ProjectID       string `json:"projectId,omitempty"`
}

func (c NoteCreate) Validate() error {
	var v validator
	v.requireText(c.ClientRequestID, "clientRequestId")
	c.validate(&v, "")
	return v.err()
}

func (c NoteCreate) validate(v *validator, path string) {
	v.requireText(c.Title, join(path, "title"))
}

type NoteUpdate struct {
	NoteID string  `json:"noteId"`
	Title  *string `json:"title,omitempty"`
	Body   *string `json:"body,omitempty"`
	Reason string  `json:"reason,omitempty"`
}

func (u NoteUpdate) Validate() error {
	var v validator
	u.validate(&v, "")
	return v.err()
}

func (u NoteUpdate) validate(v *validator, path string) {
	v.requireText(u.NoteID, join(path, "noteId"))
	v.check(u.Title != nil || u.Body != nil, path, "update must change at least one field")
	v.optionalText(u.Title, join(path, "title"))
}

type NoteDelete struct {
	NoteID    string `json:"noteId"`
	Reason    string `json:"reason"`
	Dangerous bool   `json:"dangerous"`
}

func (d NoteDelete) Validate() error {
	var v validator
	d.validate(&v, "")
	return v.err()
}

func (d NoteDelete) validate(v *validator, path string) {
	v.requireText(d.NoteID, join(path, "noteId"))
	v.dangerous(d.Dangerous, d.Reason, path)
}

// NotePlan is the output of the notes agent.
type NotePlan struct {
	Creates []NoteCreate `json:"creates"`
	Updates []NoteUpdate `json:"updates"`
	Deletes []NoteDelete `json:"deletes"`
}

func DecodeNotePlan(data []byte) (Plan, error) {
	return decode[*NotePlan](data)
}

func (p *NotePlan) normalize() {
	p.Creates = orEmpty(p.Creates)
	p.Updates = orEmpty(p.Updates)
	p.Deletes = orEmpty(p.Deletes)
}

func (p *NotePlan) Validate() error {
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

func (p *NotePlan) Summary() Summary {
	s := Summary{Items: []SummaryItem{}}
	for _, c := range p.Creates {
		s.add(SummaryItem{Action: ActionCreate, Entity: "note", Ref: c.ClientRequestID, Title: c.Title})
	}
	for _, u := range p.Updates {
		s.add(SummaryItem{Action: ActionUpdate, Entity: "note", Ref: u.NoteID, Title: deref(u.Title), Detail: u.Reason})
	}
	for _, d := range p.Deletes {
		s.add(SummaryItem{Action: ActionDelete, Entity: "note", Ref: d.NoteID, Detail: d.Reason})
	}
	return s
}

func (p *NotePlan) Steps() []Step {
	var steps []Step
	for _, c := range p.Creates {
		steps = append(steps, Step{Action: ActionCreate, Entity: "note", Tool: ToolCreateNote, Input: c, Ref: c.ClientRequestID})
	}
	for _, u := range p.Updates {
		steps = append(steps, Step{Action: ActionUpdate, Entity: "note", Tool: ToolUpdateNote, Input: u, Ref: u.NoteID})
	}
	for _, d := range p.Deletes {
		steps = append(steps, Step{Action: ActionDelete, Entity: "note", Tool: ToolDeleteNote, Input: d, Ref: d.NoteID})
	}
	return steps
}

const NotePlanShape = `{
  "creates": [
    {"clientRequestId": "string, unique within this plan", "title": "string", "body": "string",
     "projectId": "string (optional)"}
  ],
  "updates": [
    {"noteId": "string, an id from the context", "title": "string (optional)",
     "body": "string (optional)", "reason": "string (optional)"}
  ],
  "deletes": [
    {"noteId": "string, an id from the context", "reason": "string", "dangerous": true}
  ]
}`
