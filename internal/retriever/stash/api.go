package stash

// Wire types of the Bitbucket Server (Stash) REST API 1.0. Only the fields
// the poller reads are declared.

type page[T any] struct {
	Size          int  `json:"size"`
	Limit         int  `json:"limit"`
	IsLastPage    bool `json:"isLastPage"`
	Values        []T  `json:"values"`
	Start         int  `json:"start"`
	NextPageStart *int `json:"nextPageStart"`
}

type linkHref struct {
	Href string `json:"href"`
	Name string `json:"name,omitempty"`
}

type links struct {
	Self []linkHref `json:"self"`
}

func (l links) self() string {
	if len(l.Self) == 0 {
		return ""
	}
	return l.Self[0].Href
}

type project struct {
	ID  int    `json:"id"`
	Key string `json:"key"`
}

type repository struct {
	ID      int     `json:"id"`
	Slug    string  `json:"slug"`
	Name    string  `json:"name"`
	Project project `json:"project"`
}

type ref struct {
	ID         string     `json:"id"`
	DisplayID  string     `json:"displayId"`
	Repository repository `json:"repository"`
}

type user struct {
	ID           int    `json:"id"`
	Name         string `json:"name"`
	EmailAddress string `json:"emailAddress,omitempty"`
	DisplayName  string `json:"displayName"`
	Slug         string `json:"slug"`
	Links        links  `json:"links"`
}

type participant struct {
	User     user   `json:"user"`
	Role     string `json:"role"`
	Approved bool   `json:"approved"`
}

type pullRequest struct {
	ID          int64         `json:"id"`
	Version     int           `json:"version"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	State       string        `json:"state"`
	Open        bool          `json:"open"`
	Closed      bool          `json:"closed"`
	CreatedDate int64         `json:"createdDate"`
	UpdatedDate int64         `json:"updatedDate"`
	FromRef     ref           `json:"fromRef"`
	ToRef       ref           `json:"toRef"`
	Author      participant   `json:"author"`
	Reviewers   []participant `json:"reviewers"`
	Links       links         `json:"links"`
}

// listOptions is encoded with go-querystring.
type listOptions struct {
	State string `url:"state,omitempty"`
	Start int    `url:"start,omitempty"`
	Limit int    `url:"limit,omitempty"`
	Order string `url:"order,omitempty"`
}
