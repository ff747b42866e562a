// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 EmberMUSH Contributors

package userauth

import (
	"context"
	"errors"
	"strings"

	"github.com/embermush/embermush/internal/wire"
)

// GuestUsername is the reserved identity guest characters are created under.
// It is provisioned at startup and cannot be logged into directly.
const GuestUsername = "__guest__"

// passwordAttempts seeds the remaining-attempts counter for known-identity
// password prompts. The third consecutive failure disconnects; there is
// never a fourth prompt.
const passwordAttempts = 3

// dialogueStep tags the suspension point a dialogue is parked at. The
// original design was coroutine-shaped ("ask, then wait"); here every await
// becomes a step value plus whatever partial state the step accumulated, so
// an info-response arriving as a separate event resumes at the exact point
// the question was asked.
type dialogueStep int

const (
	// New-identity branch.
	stepMenu dialogueStep = iota
	stepGuestName
	stepRegisterPassword
	stepRegisterCharacter

	// Known-identity branch.
	stepPassword
	stepSelectCharacter
	stepCreateCharacter
)

// dialogue is one resumable keyboard-interactive conversation, bound to a
// session. It asks a question set, yields control, and resumes when the
// matching answers arrive. Discarded together with its session.
type dialogue struct {
	neg     *Negotiator
	session *Session

	step          dialogueStep
	lastQuestions []wire.Question

	// Partial state carried across suspension points.
	attemptsLeft int
	password     string
}

func newDialogue(neg *Negotiator, session *Session) *dialogue {
	return &dialogue{neg: neg, session: session}
}

// start sends the branch's first question set.
func (d *dialogue) start() error {
	if d.session.Known {
		d.attemptsLeft = passwordAttempts
		d.step = stepPassword

		welcome := "Welcome back, " + d.session.Username + "!"
		if d.session.Character != "" {
			welcome += " You will connect as your character " + d.session.Character + "."
		}
		return d.ask(hidden(welcome +
			"\nIf you are not " + d.session.Username + ", please connect again using a different username.\n" +
			"Enter the password for " + d.session.Username + ": "))
	}

	d.step = stepMenu
	return d.ask(visible("Welcome, " + d.session.Username + "! I don't recognise your username.\n" +
		"Would you like to [r]egister, proceed as a [g]uest, or [q]uit?\n(r/g/q): "))
}

// resume feeds the answers to the parked step. Answers are positional and
// must match the last question set 1:1; a mismatched count is a protocol
// error that re-asks instead of indexing out of range, bounded by the
// response-packet guard.
func (d *dialogue) resume(ctx context.Context, answers []string) error {
	if len(answers) != len(d.lastQuestions) {
		d.neg.logger.Warn("answer count does not match questions asked",
			"expected", len(d.lastQuestions),
			"got", len(answers),
		)
		return d.reask()
	}

	switch d.step {
	case stepMenu:
		return d.onMenu(answers[0])
	case stepGuestName:
		return d.onGuestName(ctx, answers[0])
	case stepRegisterPassword:
		return d.onRegisterPassword(answers[0], answers[1])
	case stepRegisterCharacter:
		return d.onRegisterCharacter(ctx, answers[0])
	case stepPassword:
		return d.onPassword(ctx, answers[0])
	case stepSelectCharacter:
		return d.onSelectCharacter(ctx, answers[0])
	case stepCreateCharacter:
		return d.onCreateCharacter(ctx, answers[0])
	default:
		return d.neg.disconnect(ReasonByApplication, "authentication dialogue in unknown state")
	}
}

func (d *dialogue) ask(questions ...wire.Question) error {
	d.lastQuestions = questions
	return d.neg.askQuestions(questions)
}

func (d *dialogue) reask() error {
	return d.neg.askQuestions(d.lastQuestions)
}

func visible(prompt string) wire.Question { return wire.Question{Prompt: prompt, Echo: true} }
func hidden(prompt string) wire.Question  { return wire.Question{Prompt: prompt, Echo: false} }

// onMenu handles the register/guest/quit choice. Only the first character of
// the answer counts, case-insensitively; anything else re-asks.
func (d *dialogue) onMenu(answer string) error {
	choice := strings.ToLower(strings.TrimSpace(answer))
	if choice == "" || !strings.ContainsRune("rgq", rune(choice[0])) {
		return d.ask(visible("Sorry, I don't understand your input.\n" +
			"Register, visit as a guest, or quit? (r/g/q): "))
	}

	switch choice[0] {
	case 'q':
		if err := d.neg.sendBanner("Goodbye!"); err != nil {
			return err
		}
		return d.neg.disconnect(ReasonAuthCancelled, "Please come again soon!")
	case 'g':
		d.step = stepGuestName
		return d.ask(visible("Please choose a name for your temporary character: "))
	default: // 'r'
		d.step = stepRegisterPassword
		return d.askRegisterPasswords("You are registering with the username: " + d.session.Username + "\n" +
			"Please choose a password: ")
	}
}

func (d *dialogue) askRegisterPasswords(firstPrompt string) error {
	return d.ask(
		hidden(firstPrompt),
		hidden("Please re-type the password: "),
	)
}

// onGuestName creates (if needed) and selects a temporary character under
// the reserved guest identity. Guest access never touches the requester's
// claimed identity.
func (d *dialogue) onGuestName(ctx context.Context, answer string) error {
	name := strings.TrimSpace(answer)
	if name == "" {
		return d.ask(visible("That name is empty. Please choose a name for your temporary character: "))
	}

	if err := d.neg.gateway.CreateCharacter(ctx, GuestUsername, name); err != nil {
		switch {
		case errors.Is(err, ErrNameTaken):
			// An earlier guest already created it; selecting it is fine.
		case errors.Is(err, ErrInvalidName):
			return d.ask(visible("That name can't be used. Please choose another: "))
		default:
			return d.neg.storeFailure(err)
		}
	}
	if err := d.neg.gateway.SelectCharacter(ctx, GuestUsername, name); err != nil {
		return d.neg.disconnect(ReasonConnectionLost, "Guest character not found")
	}

	d.session.asGuest = true
	d.session.Character = name
	return d.neg.succeed()
}

// onRegisterPassword checks the password pair and moves on to the first
// character name. Mismatched or empty pairs re-ask as a pair.
func (d *dialogue) onRegisterPassword(password, confirm string) error {
	if password == "" || password != confirm {
		return d.askRegisterPasswords("Those passwords didn't match!\nPlease choose a password: ")
	}
	d.password = password
	d.step = stepRegisterCharacter
	return d.ask(visible("Choose a name for your first character: "))
}

// onRegisterCharacter creates the account. Accounts are not auto-logged-in
// after creation: success disconnects with an instruction to reconnect.
func (d *dialogue) onRegisterCharacter(ctx context.Context, answer string) error {
	name := strings.TrimSpace(answer)
	if name == "" {
		return d.ask(visible("That name is empty. Choose a name for your first character: "))
	}

	err := d.neg.gateway.CreateAccount(ctx, CreateAccountParams{
		Username:   d.session.Username,
		Password:   d.password,
		Character:  name,
		PublicKeys: d.session.Keys,
	})
	if err != nil {
		explanation := "Registration failed. Please try again later."
		switch {
		case errors.Is(err, ErrNameTaken):
			explanation = "That username or character name is already taken.\nPlease reconnect and try a different one."
		case errors.Is(err, ErrInvalidName):
			explanation = "That username or character name can't be used.\nPlease reconnect and try a different one."
		default:
			return d.neg.storeFailure(err)
		}
		if bErr := d.neg.sendBanner(explanation); bErr != nil {
			return bErr
		}
		return d.neg.disconnect(ReasonConnectionLost, "registration failed")
	}

	if bErr := d.neg.sendBanner("Account " + d.session.Username + " created with character " + name + ".\n" +
		"Please reconnect and log in to play."); bErr != nil {
		return bErr
	}
	return d.neg.disconnect(ReasonAuthCancelled, "Account created. Please log in again.")
}

// onPassword verifies a known identity's password, with a bounded number of
// re-prompts before a no-more-methods disconnect.
func (d *dialogue) onPassword(ctx context.Context, password string) error {
	ok, err := d.neg.gateway.VerifyPassword(ctx, d.session.Username, password)
	if err != nil {
		return d.neg.storeFailure(err)
	}
	if !ok {
		d.attemptsLeft--
		if d.attemptsLeft <= 0 {
			return d.neg.disconnect(ReasonNoMoreAuthMethods, "Too many incorrect passwords.")
		}
		return d.ask(hidden("Incorrect password, try again: "))
	}
	return d.afterPassword(ctx)
}

// afterPassword settles character selection once the password is verified.
func (d *dialogue) afterPassword(ctx context.Context) error {
	if d.session.Character != "" {
		err := d.neg.gateway.SelectCharacter(ctx, d.session.Username, d.session.Character)
		switch {
		case err == nil:
			return d.neg.succeed()
		case errors.Is(err, ErrNotFound):
			d.neg.logger.Info("requested character does not exist, falling back to selection",
				"username", d.session.Username,
				"character", d.session.Character,
			)
			d.session.Character = ""
		default:
			return d.neg.storeFailure(err)
		}
	}

	characters, err := d.neg.gateway.ListCharacters(ctx, d.session.Username)
	if err != nil {
		return d.neg.storeFailure(err)
	}

	if len(characters) == 0 {
		d.step = stepCreateCharacter
		return d.ask(visible("You have no characters yet.\nChoose a name for your first character: "))
	}

	d.step = stepSelectCharacter
	return d.ask(visible("Your characters: " + strings.Join(characters, ", ") + "\n" +
		"What character do you want to use? "))
}

func (d *dialogue) onSelectCharacter(ctx context.Context, answer string) error {
	name := strings.TrimSpace(answer)
	if name == "" {
		return d.ask(visible("Character not found, try again: "))
	}
	err := d.neg.gateway.SelectCharacter(ctx, d.session.Username, name)
	switch {
	case err == nil:
		d.session.Character = name
		return d.neg.succeed()
	case errors.Is(err, ErrNotFound):
		return d.ask(visible("Character not found, try again: "))
	default:
		return d.neg.storeFailure(err)
	}
}

func (d *dialogue) onCreateCharacter(ctx context.Context, answer string) error {
	name := strings.TrimSpace(answer)
	if name == "" {
		return d.ask(visible("That name is empty. Choose a name for your first character: "))
	}

	if err := d.neg.gateway.CreateCharacter(ctx, d.session.Username, name); err != nil {
		if errors.Is(err, ErrInvalidName) || errors.Is(err, ErrNameTaken) {
			return d.ask(visible("That name can't be used. Choose another: "))
		}
		return d.neg.storeFailure(err)
	}
	if err := d.neg.gateway.SelectCharacter(ctx, d.session.Username, name); err != nil {
		return d.neg.storeFailure(err)
	}

	d.session.Character = name
	return d.neg.succeed()
}
