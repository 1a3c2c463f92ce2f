package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"syscall"

	"contact_flow_app_go/config"
	"contact_flow_app_go/db"
	"contact_flow_app_go/models"
	"contact_flow_app_go/services"

	"golang.org/x/term"
)

func main() {
	superuser := flag.Bool("superuser", false, "create the account as superuser")
	flag.Parse()

	// Load configuration
	cfg := config.Load()

	// Initialize database
	if err := db.Initialize(db.Options{
		Path:        cfg.DBPath,
		TursoURL:    cfg.TursoDatabaseURL,
		TursoToken:  cfg.TursoAuthToken,
		Environment: cfg.Environment,
	}); err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Run migrations
	if err := db.AutoMigrate(models.All()...); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	reader := bufio.NewReader(os.Stdin)
	prompt := func(label string) string {
		fmt.Print(label)
		value, _ := reader.ReadString('\n')
		return strings.TrimSpace(value)
	}

	fmt.Println("=== Create Staff Account ===")
	fmt.Println()

	name := prompt("Name: ")
	email := prompt("Email: ")

	// Get password securely
	fmt.Print("Password: ")
	passwordBytes, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		log.Fatalf("Failed to read password: %v", err)
	}
	password := string(passwordBytes)
	fmt.Println() // New line after password input

	role := strings.ToLower(prompt("Role (admin/employee) [employee]: "))
	if role == "" {
		role = models.RoleEmployee
	}

	var departmentID *uint
	if departmentName := prompt("Department (leave empty for none): "); departmentName != "" {
		department, err := services.CreateDepartment(db.DB, departmentName)
		if err != nil {
			log.Fatalf("Failed to create department: %v", err)
		}
		departmentID = &department.ID
	}
	if role == models.RoleEmployee && departmentID == nil {
		log.Fatal("Employees must belong to a department")
	}

	user, err := services.CreateStaffUser(db.DB, name, email, password, role, departmentID, *superuser)
	if err != nil {
		log.Fatalf("Failed to create staff account: %v", err)
	}

	fmt.Println()
	fmt.Println("✓ Staff account created successfully!")
	fmt.Printf("  ID: %s\n", user.ID)
	fmt.Printf("  Name: %s\n", user.Name)
	fmt.Printf("  Email: %s\n", user.Email)
	fmt.Printf("  Role: %s\n", role)
	fmt.Println()
	fmt.Printf("The account can now sign in at %s/login\n", strings.TrimSuffix(cfg.AppURL, "/"))
}
