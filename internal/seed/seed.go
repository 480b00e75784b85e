// Package seed fills an empty deployment with sample users and jokes.
package seed

import (
	"context"

	log "github.com/sirupsen/logrus"

	"jokes/internal/apperr"
	"jokes/internal/auth"
	"jokes/internal/policy"
	"jokes/internal/service"
)

// Password is shared by every sample account.
const Password = "password"

var users = []struct{ email, nickname string }{
	{"alice@example.com", "alice_laughs"},
	{"bob@example.com", "bob_jokes"},
	{"charlie@example.com", "charlie_comedy"},
	{"diana@example.com", "diana_giggles"},
	{"eve@example.com", "eve_humor"},
}

var jokes = []struct{ title, body string }{
	{"Why did the scarecrow win an award?", "Because he was outstanding in his field!"},
	{"Why don't scientists trust atoms?", "Because they make up everything!"},
	{"What do you call fake spaghetti?", "An impasta!"},
	{"Why did the bicycle fall over?", "Because it was two-tired!"},
	{"Why do programmers prefer dark mode?", "Because light attracts bugs!"},
	{"Why do Java developers wear glasses?", "Because they don't C#!"},
	{"What's a programmer's favorite hangout place?", "Foo Bar!"},
	{"What do you call a bear with no teeth?", "A gummy bear!"},
	{"Why don't elephants use computers?", "They're afraid of the mouse!"},
	{"Did you hear about the restaurant on the moon?", "Great food, no atmosphere!"},
	{"Why did the photon check into a hotel?", "Because it was traveling light!"},
	{"Why was the computer cold?", "It left its Windows open!"},
	{"Why did the musician get locked out?", "Because he had the wrong key!"},
	{"Why don't eggs tell jokes?", "They'd crack each other up!"},
	{"Why don't skeletons fight each other?", "They don't have the guts!"},
}

type Result struct {
	Users int
	Jokes int
}

// Run creates the sample accounts and hands the jokes out round-robin.
// Accounts and jokes that already exist are skipped, so Run can be repeated.
func Run(ctx context.Context, svc *service.Service) (Result, error) {
	var (
		res     Result
		authors []policy.Principal
	)
	for _, u := range users {
		created, err := svc.Register(ctx, auth.Registration{Email: u.email, Nickname: u.nickname, Password: Password})
		switch {
		case apperr.Is(err, apperr.KindConflict):
			created, err = svc.Login(ctx, u.nickname, Password)
			if err != nil {
				log.WithError(err).WithField("nickname", u.nickname).Warn("skipping existing sample user")
				continue
			}
		case err != nil:
			return res, err
		default:
			res.Users++
		}
		authors = append(authors, policy.PrincipalOf(created))
	}
	if len(authors) == 0 {
		return res, nil
	}

	for i, j := range jokes {
		author := authors[i%len(authors)]
		_, err := svc.CreatePost(ctx, author, j.title, j.body)
		if apperr.Is(err, apperr.KindConflict) {
			continue
		}
		if err != nil {
			return res, err
		}
		res.Jokes++
	}
	log.WithFields(log.Fields{"users": res.Users, "jokes": res.Jokes}).Info("sample data created")
	return res, nil
}

// Nicknames lists the sample accounts, for printing after a run.
func Nicknames() []string {
	out := make([]string, len(users))
	for i, u := range users {
		out[i] = u.nickname
	}
	return out
}
