package service

import "context"

// Sessions is the narrow read/command surface of the Session Manager.
type Sessions interface {
	// Current returns the present session state.
	Current() Session

	// Login exchanges credentials for a token.
	Login(ctx context.Context, email, password string) (Session, error)

	// Register creates an account and signs in with it.
	Register(ctx context.Context, email, password string) (Session, error)

	// Logout clears the session unconditionally.
	Logout(ctx context.Context) error

	// Subscribe calls fn after every state change. The returned func unsubscribes.
	Subscribe(fn func(Session)) (cancel func())
}

// Tasks is the Task Synchronizer surface.
// Every method routes through the authenticated gateway; commands never
// issue HTTP requests themselves.
type Tasks interface {
	// List replaces the local set with the server's tasks.
	List(ctx context.Context) ([]Task, error)

	// Create inserts a task once the server has assigned its id.
	Create(ctx context.Context, title string, description *string) (Task, error)

	// Update replaces title and description.
	Update(ctx context.Context, id int, title string, description *string) (Task, error)

	// Toggle flips completion and stores the server's answer.
	Toggle(ctx context.Context, id int) (Task, error)

	// Delete removes a task. Deleting an absent task succeeds.
	Delete(ctx context.Context, id int) error

	// Snapshot returns the local set ordered by id.
	Snapshot() []Task
}

// Conversation is the Conversation Manager surface.
type Conversation interface {
	// Send appends the user's turn and the assistant's closing turn.
	// Whitespace-only input changes nothing and returns a zero Turn.
	Send(ctx context.Context, message string) (Turn, error)

	// Transcript returns a copy of all turns in send order.
	Transcript() []Turn

	// Handle returns the server-assigned conversation id, or "".
	Handle() string
}
