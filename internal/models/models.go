package models

import "time"

// StreamEnvelope is the payload shape shared by the filtered stream (one
// envelope per line) and the recent search endpoint (one envelope per tweet,
// with the includes re-attached by the batch strategy).
type StreamEnvelope struct {
	Data     Tweet    `json:"data"`
	Includes Includes `json:"includes"`
}

// Tweet is the tweet object with the fields we request.
type Tweet struct {
	ID          string       `json:"id"`
	Text        string       `json:"text"`
	AuthorID    string       `json:"author_id"`
	CreatedAt   string       `json:"created_at"`
	Attachments *Attachments `json:"attachments,omitempty"`
}

// Attachments carries the poll references on a tweet.
type Attachments struct {
	PollIDs []string `json:"poll_ids,omitempty"`
}

// Includes holds the expanded objects requested alongside tweets.
type Includes struct {
	Polls []Poll `json:"polls,omitempty"`
	Users []User `json:"users,omitempty"`
}

// Poll is an expanded poll attachment.
type Poll struct {
	ID              string       `json:"id"`
	DurationMinutes int          `json:"duration_minutes"`
	EndDatetime     string       `json:"end_datetime"`
	VotingStatus    string       `json:"voting_status"`
	Options         []PollOption `json:"options"`
}

// PollOption is a single choice. Position is preserved for display order.
type PollOption struct {
	Position int    `json:"position"`
	Label    string `json:"label"`
}

// User is an expanded author object.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// PollRecord is the classified result for a relevant poll. It is built once
// by the classifier and never mutated afterwards.
type PollRecord struct {
	TweetID         string
	AuthorID        string
	Username        string
	Text            string
	CreatedAtRaw    string
	CreatedAt       time.Time // UTC instant
	CreatedAtEAT    string    // display string in East Africa Time
	PollEndRaw      string
	PollEnd         time.Time // UTC instant
	PollEndEAT      string    // display string in East Africa Time
	DurationMinutes int
	VotingStatus    string
	Options         []string
}

// TweetURL returns the canonical web link for the tweet.
func (r *PollRecord) TweetURL() string {
	return "https://x.com/i/web/status/" + r.TweetID
}
